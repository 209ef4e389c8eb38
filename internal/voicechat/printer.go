package voicechat

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

const ruleWidth = 50

// Printer writes the conversation to a terminal. It implements [Handlers]
// and is safe for concurrent use, every call writes whole lines.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	wrapWidth int

	titleStyle   lipgloss.Style
	agentStyle   lipgloss.Style
	userStyle    lipgloss.Style
	latencyStyle lipgloss.Style
	errorStyle   lipgloss.Style
	statusStyle  lipgloss.Style
}

// NewPrinter creates a printer writing to out. Colors are only used when out
// is a terminal. Agent and user texts are wrapped at wrapWidth columns, 0
// disables wrapping.
func NewPrinter(out io.Writer, wrapWidth int) *Printer {
	renderer := lipgloss.NewRenderer(out)
	return &Printer{
		out:       out,
		wrapWidth: wrapWidth,

		titleStyle:   renderer.NewStyle().Bold(true),
		agentStyle:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		userStyle:    renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		latencyStyle: renderer.NewStyle().Faint(true),
		errorStyle:   renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		statusStyle:  renderer.NewStyle().Bold(true),
	}
}

func (p *Printer) AgentResponse(response string) {
	p.println("\n" + p.agentStyle.Render("🤖 Agent:") + " " + p.wrap(response))
}

func (p *Printer) AgentResponseCorrection(original, corrected string) {
	p.println("\n" + p.agentStyle.Render("🤖 Agent (corrected):") + " " + p.wrap(original+" → "+corrected))
}

func (p *Printer) UserTranscript(transcript string) {
	p.println("\n" + p.userStyle.Render("👤 You:") + " " + p.wrap(transcript))
}

func (p *Printer) Latency(latencyMs float64) {
	p.println("\n" + p.latencyStyle.Render("⚡ Latency: "+strconv.FormatFloat(latencyMs, 'f', -1, 64)+"ms"))
}

func (p *Printer) Welcome() {
	p.println(
		p.titleStyle.Render("Welcome to ElevenLabs Voice Chat!"),
		strings.Repeat("-", ruleWidth),
	)
}

func (p *Printer) Banner(agentID string, authenticated bool) {
	authentication := "Public Agent"
	if authenticated {
		authentication = "API Key"
	}

	p.println(
		p.titleStyle.Render("🎙️  ElevenLabs Voice Chat"),
		strings.Repeat("=", ruleWidth),
		"Agent ID: "+agentID,
		"Authentication: "+authentication,
		strings.Repeat("=", ruleWidth),
		"\n🔊 Starting conversation...",
		"Speak naturally - the agent will respond!",
		"Press Ctrl+C to end the conversation.\n",
	)
}

func (p *Printer) Ending() {
	p.println("\n\n" + p.statusStyle.Render("🛑 Ending conversation..."))
}

func (p *Printer) Ended(conversationID string) {
	p.println(
		"\n"+p.statusStyle.Render("✅ Conversation ended"),
		"Conversation ID: "+conversationID,
	)
}

func (p *Printer) Error(err error) {
	p.println("\n" + p.errorStyle.Render("❌ Error:") + " " + err.Error())
}

func (p *Printer) MissingAgentID() {
	p.println(p.errorStyle.Render("❌ Agent ID is required!"))
}

func (p *Printer) wrap(text string) string {
	if p.wrapWidth <= 0 {
		return text
	}
	return wordwrap.String(text, p.wrapWidth)
}

func (p *Printer) println(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, line := range lines {
		if _, err := fmt.Fprintln(p.out, line); err != nil {
			logger.Debug("failed to write output", "error", err)
			return
		}
	}
}
