package web

import "net/http"

const previewPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>pixgrid preview</title>
    <style>
        body { font-family: sans-serif; background: #0f172a; color: #f8fafc; margin: 2rem; }
        label { margin-right: 1rem; }
        input[type=number] { width: 5rem; }
        #grid { display: grid; gap: 0; margin-top: 1rem; max-width: 90vw; }
        #grid div { aspect-ratio: 1; }
        .black { background: #000; }
        .white { background: #fff; }
        #status { color: #cbd5e1; margin-top: .5rem; }
    </style>
</head>
<body>
    <h1>Pattern preview</h1>
    <input type="file" id="file" accept="image/*">
    <label>Cols <input type="number" id="cols" value="160" min="1" max="500"></label>
    <label>Rows <input type="number" id="rows" value="90" min="1" max="500"></label>
    <label>Threshold <input type="range" id="threshold" min="0" max="255" value="128"></label>
    <div id="status">Choose an image.</div>
    <div id="grid"></div>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/preview');
        ws.binaryType = 'arraybuffer';
        let seq = 0;
        const $ = id => document.getElementById(id);
        function request() {
            seq++;
            ws.send(JSON.stringify({
                seq: seq,
                cols: +$('cols').value,
                rows: +$('rows').value,
                threshold: +$('threshold').value,
            }));
        }
        $('file').onchange = async e => {
            const f = e.target.files[0];
            if (f) ws.send(await f.arrayBuffer());
        };
        ['cols', 'rows', 'threshold'].forEach(id => $(id).oninput = request);
        ws.onmessage = e => {
            const msg = JSON.parse(e.data);
            if (msg.type === 'image') { $('status').textContent = msg.width + 'x' + msg.height; request(); return; }
            if (msg.type === 'error') { $('status').textContent = msg.error; return; }
            if (msg.seq !== seq) return;
            const rows = msg.pattern.grid;
            const el = $('grid');
            el.style.gridTemplateColumns = 'repeat(' + rows[0].length + ', 1fr)';
            el.innerHTML = rows.map(r => r.map(c => '<div class="' + (c === 1 ? 'black' : 'white') + '"></div>').join('')).join('');
            $('status').textContent = msg.summary.black_cells + ' black cells';
        };
    </script>
</body>
</html>`

func (h *PreviewHub) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(previewPage))
}
