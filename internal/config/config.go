package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Transcription backend: vosk, whisper, or azure_speech.
	ASREngine         string        `env:"ASR_ENGINE" envDefault:"vosk"`
	VoskURL           string        `env:"VOSK_URL" envDefault:"http://localhost:2700"`
	VoskModel         string        `env:"VOSK_MODEL"`
	WhisperURL        string        `env:"WHISPER_URL" envDefault:"http://localhost:9000"`
	WhisperModel      string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperAPIKey     string        `env:"WHISPER_API_KEY"`
	AzureSpeechURL    string        `env:"AZURE_SPEECH_URL"`
	AzureSpeechKey    string        `env:"AZURE_SPEECH_KEY"`
	Language          string        `env:"ASR_LANGUAGE" envDefault:"en"`
	TranscribeTimeout time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"120s"`

	// Note generation backend: azure_openai or bridge.
	NoteBackend       string        `env:"NOTE_BACKEND" envDefault:"bridge"`
	AzureOAIEndpoint  string        `env:"AZURE_OPENAI_ENDPOINT"`
	AzureOAIDeploy    string        `env:"AZURE_OPENAI_DEPLOYMENT" envDefault:"gpt-4o"`
	AzureOAIKey       string        `env:"AZURE_OPENAI_KEY"`
	AzureOAIVersion   string        `env:"AZURE_OPENAI_API_VERSION" envDefault:"2024-06-01"`
	BridgeURL         string        `env:"BRIDGE_URL" envDefault:"http://localhost:8731"`
	BridgeModel       string        `env:"BRIDGE_MODEL"`
	GenerateTimeout   time.Duration `env:"GENERATE_TIMEOUT" envDefault:"300s"`

	// Retry policy for transient backend failures.
	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" envDefault:"500ms"`
	RetryMaxBackoff     time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"8s"`
	RetryMultiplier     float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`

	// Diarization heuristic.
	SilenceGap   float64  `env:"SILENCE_GAP_SECONDS" envDefault:"1.5"`
	SpeakerRoles []string `env:"SPEAKER_ROLES" envSeparator:"," envDefault:"Doctor,Patient"`

	// Words below this recognizer confidence are flagged in session exports.
	LowConfidence float64 `env:"LOW_CONFIDENCE_THRESHOLD" envDefault:"0.5"`

	// Capture format for streamed PCM.
	SampleRate int `env:"SAMPLE_RATE" envDefault:"16000"`
	Channels   int `env:"CHANNELS" envDefault:"1"`

	// Encryption at rest. The key is 64 hex characters (32 bytes).
	EncryptAtRest bool   `env:"ENCRYPT_AT_REST" envDefault:"false"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// Paths.
	DataDir       string `env:"DATA_DIR" envDefault:"./data"`
	InboxDir      string `env:"INBOX_DIR"`
	ArchivePath   string `env:"ARCHIVE_PATH" envDefault:"./data/archive.db"`
	TemplatesPath string `env:"TEMPLATES_PATH"`

	// Optional S3 artifact storage. Empty bucket keeps artifacts local.
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Prefix    string `env:"S3_PREFIX"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	ASREngine   string
	NoteBackend string
	DataDir     string
	InboxDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ASREngine != "" {
		cfg.ASREngine = overrides.ASREngine
	}
	if overrides.NoteBackend != "" {
		cfg.NoteBackend = overrides.NoteBackend
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ASREngine {
	case "vosk", "whisper", "azure_speech":
	default:
		return fmt.Errorf("unknown ASR_ENGINE %q (want vosk, whisper, or azure_speech)", c.ASREngine)
	}
	switch c.NoteBackend {
	case "azure_openai", "bridge":
	default:
		return fmt.Errorf("unknown NOTE_BACKEND %q (want azure_openai or bridge)", c.NoteBackend)
	}
	if c.ASREngine == "azure_speech" && (c.AzureSpeechURL == "" || c.AzureSpeechKey == "") {
		return fmt.Errorf("azure_speech requires AZURE_SPEECH_URL and AZURE_SPEECH_KEY")
	}
	if c.NoteBackend == "azure_openai" && (c.AzureOAIEndpoint == "" || c.AzureOAIKey == "") {
		return fmt.Errorf("azure_openai requires AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_KEY")
	}
	if c.EncryptAtRest && c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPT_AT_REST requires ENCRYPTION_KEY")
	}
	return nil
}
