package contextmgr

const (
	defaultMaxContextLength    = 10000
	defaultMaxVisibleMessages  = 20
	defaultSummaryTargetLength = 2000
)

// Config holds the context manager thresholds.
type Config struct {
	// MaxContextLength is the character budget across the live summary
	// plus the visible message window.
	MaxContextLength int `yaml:"max_context_length,omitempty"`

	// MaxVisibleMessages caps the visible window regardless of length.
	MaxVisibleMessages int `yaml:"max_visible_messages,omitempty"`

	// SummaryTargetLength is the bounded output length requested from
	// the summarization call.
	SummaryTargetLength int `yaml:"summary_target_length,omitempty"`
}

// DefaultConfig returns the default thresholds: 10k characters, 20
// visible messages, 2k summary target.
func DefaultConfig() Config {
	return Config{
		MaxContextLength:    defaultMaxContextLength,
		MaxVisibleMessages:  defaultMaxVisibleMessages,
		SummaryTargetLength: defaultSummaryTargetLength,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.MaxContextLength > 0 {
		c.MaxContextLength = source.MaxContextLength
	}
	if source.MaxVisibleMessages > 0 {
		c.MaxVisibleMessages = source.MaxVisibleMessages
	}
	if source.SummaryTargetLength > 0 {
		c.SummaryTargetLength = source.SummaryTargetLength
	}
}
