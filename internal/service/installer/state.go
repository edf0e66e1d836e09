package installer

// Env keys the wizard writes.
const (
	keyBackend       = "TUSK_BACKEND"
	keyMode          = "TUSK_MODE"
	keyChannel       = "TUSK_CHANNEL"
	keyTelegramToken = "TUSK_TELEGRAM_TOKEN"
	keyTelegramOwner = "TUSK_TELEGRAM_OWNER_ID"
	keySummarizer    = "TUSK_SUMMARIZER"
	keyDebug         = "TUSK_DEBUG"
)

type InstallState struct {
	EnvVars map[string]string
}

func NewInstallState() *InstallState {
	return &InstallState{
		EnvVars: make(map[string]string),
	}
}

func (s *InstallState) get(key string) string {
	return s.EnvVars[key]
}
