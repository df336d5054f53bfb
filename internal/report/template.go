package report

// reportTemplate is the HTML compliance report. It is self-contained so the
// stored body renders without external assets.
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
  :root {
    --bg: #ffffff;
    --text: #1a1a2e;
    --muted: #6b7280;
    --border: #e5e7eb;
    --accent: #2563eb;
    --green: #16a34a;
    --red: #dc2626;
    --orange: #ea580c;
    --section-bg: #f8fafc;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    color: var(--text);
    background: var(--bg);
    line-height: 1.6;
    max-width: 960px;
    margin: 0 auto;
    padding: 20px;
  }
  h1 { font-size: 1.5rem; color: var(--accent); margin-bottom: 4px; }
  h2 { font-size: 1.2rem; margin: 24px 0 12px; padding-bottom: 6px; border-bottom: 2px solid var(--accent); }
  .muted { color: var(--muted); font-size: 0.85rem; }
  .header { border-bottom: 3px solid var(--accent); padding-bottom: 12px; margin-bottom: 16px; }
  .overall { display: inline-block; padding: 4px 14px; border-radius: 4px; font-weight: 700; color: white; background: var(--muted); }
  .overall.compliant { background: var(--green); }
  .overall.warning { background: var(--orange); }
  .overall.breached { background: var(--red); }
  .summary-grid { display: grid; grid-template-columns: repeat(6, 1fr); gap: 8px; margin: 12px 0; }
  .summary-item { background: var(--section-bg); border: 1px solid var(--border); border-radius: 6px; padding: 8px; text-align: center; }
  .summary-item .value { font-size: 1.2rem; font-weight: 700; }
  table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--border); vertical-align: top; }
  th { background: var(--section-bg); font-weight: 600; }
  .status-badge { display: inline-block; padding: 1px 8px; border-radius: 3px; font-size: 0.8rem; font-weight: 600; }
  .status-badge.compliant { background: #dcfce7; color: var(--green); }
  .status-badge.warning { background: #ffedd5; color: var(--orange); }
  .status-badge.breached { background: #fee2e2; color: var(--red); }
  .status-badge.failed { background: var(--section-bg); color: var(--muted); }
  .note { color: var(--muted); font-size: 0.8rem; margin-top: 2px; }
  .footer { margin-top: 32px; padding-top: 12px; border-top: 1px solid var(--border); }
</style>
</head>
<body>

<div class="header">
  <h1>{{.Title}}</h1>
  <div class="muted">Contract {{.ContractID}} · covenants from {{.Source}} · generated {{.GeneratedAt}} by {{.Author}}</div>
</div>

<div class="section">
  <h2>Summary</h2>
  <span class="overall {{.OverallClass}}">{{.Overall}}</span>
  <div class="summary-grid">
    <div class="summary-item"><div class="muted">Covenants</div><div class="value">{{.Total}}</div></div>
    <div class="summary-item"><div class="muted">Compliant</div><div class="value">{{.Compliant}}</div></div>
    <div class="summary-item"><div class="muted">Warning</div><div class="value">{{.Warning}}</div></div>
    <div class="summary-item"><div class="muted">Breached</div><div class="value">{{.Breached}}</div></div>
    <div class="summary-item"><div class="muted">Failed</div><div class="value">{{.Failed}}</div></div>
    <div class="summary-item"><div class="muted">Alerts</div><div class="value">{{.Alerts}}</div></div>
  </div>
</div>

{{if .Rows}}
<div class="section">
  <h2>Covenants</h2>
  <table>
    <thead><tr><th>Covenant</th><th>Requirement</th><th>Value</th><th>Buffer</th><th>Status</th><th>Trend</th></tr></thead>
    <tbody>
    {{range .Rows}}
    <tr>
      <td>{{.Name}}
        {{if .Alert}}<div class="note">{{.Alert}}</div>{{end}}
        {{if .Narrative}}<div class="note">{{.Narrative}}</div>{{end}}
        {{if .Error}}<div class="note">error: {{.Error}}</div>{{end}}
      </td>
      <td>{{.Requirement}}</td>
      <td>{{.Value}}</td>
      <td>{{.Buffer}}</td>
      <td><span class="status-badge {{.StatusClass}}">{{.Status}}</span></td>
      <td>{{.Trend}}{{if .DaysToBreach}}<div class="note">breach in {{.DaysToBreach}}</div>{{end}}</td>
    </tr>
    {{end}}
    </tbody>
  </table>
</div>
{{end}}

<div class="footer muted">
  Health figures are computed from the most recent reported values. Verify against the signed compliance certificate before acting.
</div>

</body>
</html>
`
