package web

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Funding Arbitrage Agent</title>
<style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; background: #0d1117; color: #c9d1d9; padding: 20px; }
    h1 { font-size: 1.4em; margin-bottom: 16px; }
    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(220px, 1fr)); gap: 12px; margin-bottom: 20px; }
    .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
    .card .label { font-size: 0.8em; color: #8b949e; text-transform: uppercase; }
    .card .value { font-size: 1.5em; font-weight: 600; margin-top: 4px; }
    .green { color: #3fb950; } .red { color: #f85149; } .yellow { color: #d29922; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { text-align: left; padding: 8px 12px; border-bottom: 1px solid #21262d; font-size: 0.9em; }
    th { color: #8b949e; font-weight: 500; }
    button { background: #238636; color: #fff; border: none; border-radius: 6px; padding: 8px 16px; cursor: pointer; margin-right: 8px; }
    button.stop { background: #da3633; }
    button.close { background: #30363d; padding: 4px 10px; font-size: 0.85em; }
    #events { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 12px; max-height: 240px; overflow-y: auto; font-family: monospace; font-size: 0.8em; }
    .section { margin-bottom: 24px; }
    h2 { font-size: 1.1em; margin-bottom: 8px; color: #8b949e; }
</style>
</head>
<body>
<h1>🤖 Funding Rate Arbitrage Agent</h1>

<div class="section">
    <button id="toggle" onclick="toggleAgent()">Start</button>
    <span id="status"></span>
</div>

<div class="grid" id="perf"></div>

<div class="section">
    <h2>Active executions</h2>
    <table id="executions">
        <thead><tr><th>Symbol</th><th>Side</th><th>Size</th><th>State</th><th>Rate</th><th>Opened</th><th></th></tr></thead>
        <tbody></tbody>
    </table>
</div>

<div class="section">
    <h2>Event feed</h2>
    <div id="events"></div>
</div>

<script>
let running = false;

async function refresh() {
    const [health, perf, execs] = await Promise.all([
        fetch('/api/health').then(r => r.json()),
        fetch('/api/performance').then(r => r.json()),
        fetch('/api/executions/').then(r => r.json()),
    ]);

    running = health.running;
    document.getElementById('toggle').textContent = running ? 'Stop' : 'Start';
    document.getElementById('toggle').className = running ? 'stop' : '';
    document.getElementById('status').textContent = running ? '▶️ scanning' : '⏸️ stopped';

    const plClass = perf.totalProfit >= 0 ? 'green' : 'red';
    document.getElementById('perf').innerHTML =
        card('Total profit', perf.totalProfit.toFixed(2) + ' USDT', plClass) +
        card('Trades', perf.totalTrades + ' (' + perf.successfulTrades + ' wins)') +
        card('Win rate', (perf.winRate * 100).toFixed(1) + '%') +
        card('Max drawdown', (perf.maxDrawdown * 100).toFixed(2) + '%', 'yellow') +
        card('Sharpe', perf.sharpeRatio.toFixed(2)) +
        card('Breaker', perf.breakerTripped ? 'TRIPPED' : 'closed', perf.breakerTripped ? 'red' : 'green');

    const tbody = document.querySelector('#executions tbody');
    tbody.innerHTML = (execs || []).map(e =>
        '<tr><td>' + e.opportunity.symbol + '</td>' +
        '<td class="' + (e.opportunity.recommendedAction === 'LONG' ? 'green' : 'red') + '">' + e.opportunity.recommendedAction + '</td>' +
        '<td>' + e.size.toFixed(2) + '</td>' +
        '<td>' + e.state + '</td>' +
        '<td>' + e.opportunity.fundingRate.toFixed(4) + '</td>' +
        '<td>' + new Date(e.openedAt).toLocaleTimeString() + '</td>' +
        '<td><button class="close" onclick="closeExec(\'' + e.id + '\')">Close</button></td></tr>'
    ).join('');
}

function card(label, value, cls) {
    return '<div class="card"><div class="label">' + label + '</div><div class="value ' + (cls || '') + '">' + value + '</div></div>';
}

async function toggleAgent() {
    await fetch('/api/agent/action', {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ action: running ? 'stop' : 'start' }),
    });
    refresh();
}

async function closeExec(id) {
    if (!confirm('Close execution ' + id + '?')) return;
    await fetch('/api/executions/' + id, { method: 'DELETE' });
    refresh();
}

function connectWS() {
    const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
    ws.onmessage = ev => {
        const e = JSON.parse(ev.data);
        const div = document.getElementById('events');
        const line = document.createElement('div');
        line.textContent = new Date(e.timestamp).toLocaleTimeString() + '  ' + e.type + '  ' + (e.symbol || '') + '  ' + (e.message || '');
        div.prepend(line);
        while (div.childElementCount > 100) div.removeChild(div.lastChild);
        refresh();
    };
    ws.onclose = () => setTimeout(connectWS, 3000);
}

refresh();
setInterval(refresh, 5000);
connectWS();
</script>
</body>
</html>`
