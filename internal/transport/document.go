package transport

// defaultDocument is the barebones respondent page. Real deployments mount a
// proper UI through Options.Document; this one exists so a session endpoint
// is usable from a plain browser tab.
const defaultDocument = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Colloquy</title></head>
<body>
<h3>Colloquy session</h3>
<div id="log"></div>
<form id="f"><input id="qid" placeholder="question id"><input id="ans" placeholder="answer"><button>send</button></form>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onopen = () => ws.send(JSON.stringify({type: "connected"}));
ws.onmessage = (ev) => {
  const p = document.createElement("pre");
  p.textContent = ev.data;
  log.appendChild(p);
};
document.getElementById("f").onsubmit = (ev) => {
  ev.preventDefault();
  ws.send(JSON.stringify({
    type: "response",
    id: document.getElementById("qid").value,
    answer: {text: document.getElementById("ans").value},
  }));
};
</script>
</body>
</html>
`
