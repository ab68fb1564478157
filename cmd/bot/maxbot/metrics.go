package maxbot

import "github.com/AlmaAI/alma-mvp/pkg/metrics"

// Metrics counts bot activity. Any field may be nil.
type Metrics struct {
	Polls        *metrics.Counter
	PollFailures *metrics.Counter
	Questions    *metrics.Counter
	Commands     *metrics.Counter
	SendFailures *metrics.Counter
}

// NewMetrics registers the bot counters on reg.
func NewMetrics(reg *metrics.Registry) Metrics {
	return Metrics{
		Polls:        reg.Counter("alma_bot_polls_total", "Completed long-poll requests"),
		PollFailures: reg.Counter("alma_bot_poll_failures_total", "Failed long-poll requests"),
		Questions:    reg.Counter("alma_bot_questions_total", "Messages routed to search"),
		Commands:     reg.Counter("alma_bot_commands_total", "Recognized slash commands"),
		SendFailures: reg.Counter("alma_bot_send_failures_total", "Outbound messages that failed"),
	}
}

func inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}
