package gateway

// indexHTML is the built-in debug client. It drives every REST route,
// mirrors the WebSocket feed and answers chart_series_recreation with
// the recreation_ack the transition protocol expects.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Chart Replay</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 20px; }
button, input, select { background: #222; color: #ddd; border: 1px solid #555; padding: 4px 8px; margin: 2px; }
#log { border: 1px solid #333; height: 400px; overflow-y: scroll; padding: 8px; margin-top: 12px; white-space: pre-wrap; }
.msg { border-bottom: 1px solid #222; padding: 2px 0; }
.err { color: #f66; }
#status { color: #6f6; }
</style>
</head>
<body>
<h3>Chart Replay <span id="status">disconnected</span></h3>
<div>
  <select id="tf">
    <option>1m</option><option>2m</option><option>3m</option><option selected>5m</option>
    <option>15m</option><option>30m</option><option>1h</option><option>4h</option>
  </select>
  <button onclick="changeTF()">Switch TF</button>
  <input id="date" placeholder="YYYY-MM-DD" size="12">
  <button onclick="goToDate()">Go To Date</button>
  <button onclick="post('/api/debug/skip')">Skip</button>
  <button onclick="post('/api/debug/toggle_play')">Play/Pause</button>
  <input id="speed" value="1" size="4">
  <button onclick="setSpeed()">Set Speed</button>
  <button onclick="get('/api/debug/state')">State</button>
  <button onclick="get('/api/debug/contamination')">Contamination</button>
</div>
<div id="log"></div>
<script>
var lastSeq = 0;
var seriesVersion = 1;
var ws;

function log(text, cls) {
  var div = document.createElement('div');
  div.className = 'msg' + (cls ? ' ' + cls : '');
  div.textContent = text;
  var el = document.getElementById('log');
  el.appendChild(div);
  el.scrollTop = el.scrollHeight;
}

function connect() {
  var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  ws = new WebSocket(proto + location.host + '/ws' + (lastSeq ? '?last_seq=' + lastSeq : ''));
  ws.onopen = function() { document.getElementById('status').textContent = 'connected'; };
  ws.onclose = function() {
    document.getElementById('status').textContent = 'disconnected';
    setTimeout(connect, 1000);
  };
  ws.onmessage = function(ev) {
    ev.data.split('\n').forEach(function(line) {
      if (!line) return;
      var msg = JSON.parse(line);
      if (msg.type === 'chart_series_recreation') {
        seriesVersion = msg.version;
        ws.send(JSON.stringify({type: 'recreation_ack', transaction_id: msg.transaction_id, version: msg.version}));
        log('recreated series v' + msg.version);
        return;
      }
      if (msg.type === 'emergency_recovery_required') {
        log('EMERGENCY RECOVERY: ' + msg.reason, 'err');
        location.reload();
        return;
      }
      var n = msg.data ? msg.data.length : 0;
      log(msg.type + ' tf=' + (msg.timeframe || '') + ' candles=' + n +
          (msg.clear_cache ? ' clear_cache' : '') +
          (msg.contamination ? ' contamination=' + msg.contamination.level : ''));
    });
  };
}

function post(path, body) {
  fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'},
               body: body ? JSON.stringify(body) : '{}'})
    .then(function(r) { return r.json(); })
    .then(function(j) { if (j.status === 'error') log('error: ' + j.message, 'err'); })
    .catch(function(e) { log('request failed: ' + e, 'err'); });
}

function get(path) {
  fetch(path).then(function(r) { return r.json(); })
    .then(function(j) { log(path + ': ' + JSON.stringify(j)); });
}

function changeTF() {
  post('/api/chart/change_timeframe', {timeframe: document.getElementById('tf').value});
}
function goToDate() {
  post('/api/chart/go_to_date', {target_date: document.getElementById('date').value});
}
function setSpeed() {
  post('/api/debug/set_speed', {speed: parseFloat(document.getElementById('speed').value)});
}

connect();
</script>
</body>
</html>
`
