package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"algodesk/internal/dashboard"
	"algodesk/internal/domain"
	"algodesk/internal/httpapi"
	"algodesk/internal/live"
	"algodesk/pkg/algodesk"
)

const (
	consoleRefresh = 3 * time.Second
	consoleOrders  = 15
	consoleLogs    = 50
)

// Styles.
var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Messages.
type refreshMsg time.Time

type snapshotMsg struct {
	status    httpapi.StatusResponse
	positions []domain.Position
	pnl       domain.PnL
	orders    []domain.OrderRecord
	err       error
}

type eventMsg live.Event

type actionMsg struct {
	action string
	err    error
}

// consoleModel is the bubbletea model of the desk console.
type consoleModel struct {
	client *algodesk.Client

	status    httpapi.StatusResponse
	positions []domain.Position
	pnl       domain.PnL
	orders    []domain.OrderRecord
	logs      []string
	err       error

	viewport      viewport.Model
	ready         bool
	width, height int
}

func newConsoleModel(client *algodesk.Client) consoleModel {
	return consoleModel{client: client}
}

func refreshCmd() tea.Cmd {
	return tea.Tick(consoleRefresh, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// fetchSnapshot reads status, positions, PnL and recent orders in the
// session's current mode.
func fetchSnapshot(c *algodesk.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), reqTimeout)
		defer cancel()

		var snap snapshotMsg
		if snap.status, snap.err = c.Status(ctx); snap.err != nil {
			return snap
		}
		mode := string(snap.status.Mode)
		if snap.positions, snap.err = c.Positions(ctx, mode); snap.err != nil {
			return snap
		}
		if snap.pnl, snap.err = c.PnL(ctx, mode); snap.err != nil {
			return snap
		}
		snap.orders, snap.err = c.Orders(ctx, algodesk.OrderQuery{Limit: consoleOrders})
		return snap
	}
}

func sessionAction(c *algodesk.Client, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), reqTimeout)
		defer cancel()
		if action == "stop" {
			return actionMsg{action: action, err: c.Stop(ctx)}
		}
		_, err := c.Start(ctx, action)
		return actionMsg{action: "start " + action, err: err}
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(fetchSnapshot(m.client), refreshCmd())
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			return m, sessionAction(m.client, "paper")
		case "l":
			return m, sessionAction(m.client, "live")
		case "b":
			return m, sessionAction(m.client, "backtest")
		case "x":
			return m, sessionAction(m.client, "stop")
		case "r":
			return m, fetchSnapshot(m.client)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case refreshMsg:
		return m, tea.Batch(fetchSnapshot(m.client), refreshCmd())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.positions = msg.positions
			m.pnl = msg.pnl
			m.orders = msg.orders
		}
		m.setContent()
		return m, nil

	case eventMsg:
		evt := live.Event(msg)
		switch evt.Type {
		case live.EventLog:
			m.appendLog(logLine(evt))
			m.setContent()
			return m, nil
		case live.EventOrderUpdate, live.EventStatus:
			return m, fetchSnapshot(m.client)
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.appendLog(fmt.Sprintf("%s: %v", msg.action, msg.err))
		}
		m.setContent()
		return m, fetchSnapshot(m.client)
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *consoleModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if n := len(m.logs) - consoleLogs; n > 0 {
		m.logs = append([]string(nil), m.logs[n:]...)
	}
}

func (m *consoleModel) setContent() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

// logLine renders a log event received over gRPC, where the payload arrives
// as a generic map.
func logLine(evt live.Event) string {
	switch d := evt.Data.(type) {
	case live.LogEntry:
		return fmt.Sprintf("[%s] %-7s %s", d.Timestamp, d.Type, d.Message)
	case map[string]any:
		return fmt.Sprintf("[%v] %-7v %v", d["timestamp"], d["type"], d["message"])
	}
	return fmt.Sprint(evt.Data)
}

func (m consoleModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	state := "STOPPED"
	if m.status.Running {
		state = "RUNNING"
	}
	strategyName := m.status.Strategy
	if strategyName == "" {
		strategyName = "-"
	}
	headerText := fmt.Sprintf(" algodesk  %s  %s    strategy: %s    broker: %s    feed: %t    orders: %d ",
		m.status.Mode, state, strategyName, m.status.Broker, m.status.FeedActive, m.status.Orders)
	if m.err != nil {
		headerText = fmt.Sprintf(" algodesk  %v ", m.err)
	}

	footerText := fmt.Sprintf(" q quit  p paper  l live  b backtest  x stop  r refresh  pgup/dn scroll    %.0f%% ",
		m.viewport.ScrollPercent()*100)

	return headerStyle.Render(padOrTrunc(headerText, m.width)) + "\n" +
		m.viewport.View() + "\n" +
		footerStyle.Render(padOrTrunc(footerText, m.width))
}

func (m consoleModel) renderContent() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render(fmt.Sprintf(" POSITIONS  realized %s  unrealized %s  total %s ",
		dashboard.FormatPnL(m.pnl.Realized), dashboard.FormatPnL(m.pnl.Unrealized), dashboard.FormatPnL(m.pnl.Total))))
	b.WriteString("\n")
	if len(m.positions) == 0 {
		b.WriteString(dimStyle.Render("  (no positions)"))
		b.WriteString("\n")
	} else {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-8s %8s %12s %12s %12s %12s", "Symbol", "Qty", "Avg", "Last", "Unreal", "Real")))
		b.WriteString("\n")
		for _, p := range m.positions {
			fmt.Fprintf(&b, "  %s %8d %12s %12s %s %s\n",
				symbolStyle.Render(fmt.Sprintf("%-8s", p.Symbol)), p.Quantity,
				dashboard.FormatPrice(p.AvgPrice), dashboard.FormatPrice(p.LastPrice),
				pnlStyle(p.UnrealizedPnL.Sign()).Render(fmt.Sprintf("%12s", dashboard.FormatPnL(p.UnrealizedPnL))),
				pnlStyle(p.RealizedPnL.Sign()).Render(fmt.Sprintf("%12s", dashboard.FormatPnL(p.RealizedPnL))))
		}
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(" ORDERS "))
	b.WriteString("\n")
	if len(m.orders) == 0 {
		b.WriteString(dimStyle.Render("  (no orders)"))
		b.WriteString("\n")
	}
	for _, o := range m.orders {
		price := "-"
		if o.ExecutedPrice != nil {
			price = dashboard.FormatPrice(*o.ExecutedPrice)
		}
		fmt.Fprintf(&b, "  %s %-8s %-4s %6d %-6s %12s %s %s\n",
			o.PlacedAt.Local().Format("15:04:05"), o.Symbol, o.Side, o.Quantity, o.OrderType, price,
			statusStyle(o.Status).Render(fmt.Sprintf("%-8s", o.Status)), dimStyle.Render(o.Error))
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(" LOG "))
	b.WriteString("\n")
	for i := len(m.logs) - 1; i >= 0; i-- {
		b.WriteString("  ")
		b.WriteString(m.logs[i])
		b.WriteString("\n")
	}
	return b.String()
}

func pnlStyle(sign int) lipgloss.Style {
	switch {
	case sign > 0:
		return gainStyle
	case sign < 0:
		return lossStyle
	}
	return lipgloss.NewStyle()
}

func statusStyle(s domain.OrderStatus) lipgloss.Style {
	switch s {
	case domain.OrderStatusExecuted:
		return gainStyle
	case domain.OrderStatusPending:
		return pendingStyle
	case domain.OrderStatusFailed, domain.OrderStatusRejected:
		return lossStyle
	}
	return lipgloss.NewStyle()
}

func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive desk console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		client := newClient()
		p := tea.NewProgram(newConsoleModel(client), tea.WithAltScreen(), tea.WithMouseCellMotion())

		go func() {
			types := []string{live.EventLog, live.EventOrderUpdate, live.EventStatus}
			err := client.SubscribeEvents(ctx, types, func(evt live.Event) {
				p.Send(eventMsg(evt))
			})
			if err != nil && ctx.Err() == nil {
				p.Send(eventMsg(live.NewEvent(live.EventLog, live.LogEntry{
					Timestamp: time.Now().Format("15:04:05"),
					Message:   fmt.Sprintf("event stream closed: %v", err),
					Type:      live.LevelError,
				})))
			}
		}()

		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
