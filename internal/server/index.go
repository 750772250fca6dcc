package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>StreamCapture</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
    <main class="container">
        <h1>StreamCapture</h1>

        <form id="address-form">
            <fieldset role="group">
                <input id="address" name="address" type="text" placeholder="rtsp://camera.local/live">
                <button type="submit">Play</button>
            </fieldset>
        </form>

        <button id="toggle" type="button">Start recording</button>

        <article>
            <p><strong>State:</strong> <span id="state">-</span></p>
            <p><strong>Playback:</strong> <span id="playback">-</span></p>
            <p><strong>Recording to:</strong> <span id="destination">-</span></p>
            <p id="error" style="color: var(--pico-del-color)"></p>
        </article>

        <h2>Recordings</h2>
        <ul id="recordings"></ul>
    </main>

    <script>
        async function refresh() {
            const status = await (await fetch('/api/status')).json();
            document.getElementById('state').textContent = status.state;
            document.getElementById('playback').textContent = status.playback_state + (status.playing ? ' (playing)' : '');
            document.getElementById('destination').textContent = status.destination || '-';
            document.getElementById('toggle').textContent = status.recording ? 'Stop recording' : 'Start recording';
            document.getElementById('error').textContent =
                status.last_error || status.last_playback_error || status.last_recording_error || '';

            const list = await (await fetch('/api/recordings')).json();
            const ul = document.getElementById('recordings');
            ul.innerHTML = '';
            for (const rec of list.recordings) {
                const li = document.createElement('li');
                const a = document.createElement('a');
                a.href = rec.download_url;
                a.textContent = rec.name;
                li.appendChild(a);
                li.append(' ' + rec.size_human + (rec.in_progress ? ' (recording)' : ''));
                ul.appendChild(li);
            }
        }

        document.getElementById('address-form').addEventListener('submit', async (e) => {
            e.preventDefault();
            await fetch('/api/address', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({address: document.getElementById('address').value}),
            });
            refresh();
        });

        document.getElementById('toggle').addEventListener('click', async () => {
            await fetch('/api/recording/toggle', {method: 'POST'});
            refresh();
        });

        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
