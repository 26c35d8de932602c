package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Valores por defecto: el despliegue del juego en Mumbai.
const (
	MumbaiChainID      = 80001
	MumbaiContract     = "0x442a894f2a41730bB94e3D1AA6423F5362CA465A"
	MumbaiUSDC         = "0xe11A86849d99F524cAC3E7A0Ec1241828e332C62"
	MumbaiExplorer     = "https://mumbai.polygonscan.com/address/"
	initialHi          = 5
	initialLo          = 1
	defaultMaxApproval = initialHi * (initialHi + initialLo) * 3 / 2 // 45
)

// Config es la configuración completa del cliente.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Trading TradingConfig `yaml:"trading"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig describe la red y los contratos.
type ChainConfig struct {
	ID                  int64   `yaml:"id" env:"HILO_CHAIN_ID"`
	NetworkName         string  `yaml:"network_name" env:"HILO_NETWORK_NAME"`
	RPCURL              string  `yaml:"rpc_url" env:"HILO_RPC_URL"`
	WSURL               string  `yaml:"ws_url" env:"HILO_WS_URL"` // suscripción a eventos; vacío = RPCURL
	Contract            string  `yaml:"contract" env:"HILO_CONTRACT"`
	PaymentAsset        string  `yaml:"payment_asset" env:"HILO_PAYMENT_ASSET"`
	AssetDecimals       int32   `yaml:"asset_decimals"`
	ExplorerURL         string  `yaml:"explorer_url"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"` // recibos
	StillPendingSeconds int     `yaml:"still_pending_seconds"`
	ReadRatePerSec      float64 `yaml:"read_rate_per_sec"`
}

// TradingConfig controla los montos de las acciones. Los montos son
// decimales en unidades del activo de pago (USDC), como texto.
type TradingConfig struct {
	LowBuyMargin         string `yaml:"low_buy_margin" env:"HILO_LOW_BUY_MARGIN"`
	MaxApprovalAmount    string `yaml:"max_approval_amount" env:"HILO_MAX_APPROVAL"`
	ActionTimeoutSeconds int    `yaml:"action_timeout_seconds"`
}

// WalletConfig configura el agente de firma local.
type WalletConfig struct {
	PrivateKeys      []string `yaml:"private_keys" env:"HILO_PRIVATE_KEY" envSeparator:","`
	AutoApprove      bool     `yaml:"auto_approve" env:"HILO_AUTO_APPROVE"` // sin prompt y/N
	ChainPollSeconds int      `yaml:"chain_poll_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn" env:"HILO_DB"` // ruta al archivo SQLite, o ":memory:"
}

// ServerConfig controla la API local para la UI.
type ServerConfig struct {
	Addr           string   `yaml:"addr" env:"HILO_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HILO_ALLOWED_ORIGINS" envSeparator:","`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
// Un path vacío usa sólo defaults y entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse env: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// PollInterval devuelve el intervalo de polling de recibos.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Chain.PollIntervalSeconds) * time.Second
}

// StillPendingAfter devuelve cuándo avisar de una transacción lenta.
func (c *Config) StillPendingAfter() time.Duration {
	return time.Duration(c.Chain.StillPendingSeconds) * time.Second
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Trading.ActionTimeoutSeconds) * time.Second
}

func (c *Config) ChainPollInterval() time.Duration {
	return time.Duration(c.Wallet.ChainPollSeconds) * time.Second
}

// LowBuyMargin devuelve el margen que se suma al precio de Lo al aprobar.
func (c *Config) LowBuyMargin() decimal.Decimal {
	return decimal.RequireFromString(c.Trading.LowBuyMargin)
}

// MaxApproval devuelve el monto de la pre-aprobación.
func (c *Config) MaxApproval() decimal.Decimal {
	return decimal.RequireFromString(c.Trading.MaxApprovalAmount)
}

func (c *Config) validate() error {
	margin, err := decimal.NewFromString(c.Trading.LowBuyMargin)
	if err != nil {
		return fmt.Errorf("trading.low_buy_margin: %w", err)
	}
	if margin.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trading.low_buy_margin must be at least 1, got %s", margin)
	}
	approval, err := decimal.NewFromString(c.Trading.MaxApprovalAmount)
	if err != nil {
		return fmt.Errorf("trading.max_approval_amount: %w", err)
	}
	if approval.Sign() <= 0 {
		return fmt.Errorf("trading.max_approval_amount must be positive, got %s", approval)
	}
	if c.Chain.AssetDecimals > 36 {
		return fmt.Errorf("chain.asset_decimals out of range: %d", c.Chain.AssetDecimals)
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Chain.ID == 0 {
		cfg.Chain.ID = MumbaiChainID
	}
	if cfg.Chain.NetworkName == "" {
		cfg.Chain.NetworkName = "Mumbai"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://rpc-mumbai.maticvigil.com"
	}
	if cfg.Chain.WSURL == "" {
		cfg.Chain.WSURL = cfg.Chain.RPCURL
	}
	if cfg.Chain.Contract == "" {
		cfg.Chain.Contract = MumbaiContract
	}
	if cfg.Chain.PaymentAsset == "" {
		cfg.Chain.PaymentAsset = MumbaiUSDC
	}
	if cfg.Chain.AssetDecimals <= 0 {
		cfg.Chain.AssetDecimals = 18
	}
	if cfg.Chain.ExplorerURL == "" {
		cfg.Chain.ExplorerURL = MumbaiExplorer
	}
	if cfg.Chain.PollIntervalSeconds <= 0 {
		cfg.Chain.PollIntervalSeconds = 2
	}
	if cfg.Chain.StillPendingSeconds <= 0 {
		cfg.Chain.StillPendingSeconds = 30
	}
	if cfg.Chain.ReadRatePerSec <= 0 {
		cfg.Chain.ReadRatePerSec = 20
	}
	if cfg.Trading.LowBuyMargin == "" {
		cfg.Trading.LowBuyMargin = "1"
	}
	if cfg.Trading.MaxApprovalAmount == "" {
		cfg.Trading.MaxApprovalAmount = fmt.Sprintf("%d", defaultMaxApproval)
	}
	if cfg.Trading.ActionTimeoutSeconds <= 0 {
		cfg.Trading.ActionTimeoutSeconds = 600
	}
	if cfg.Wallet.ChainPollSeconds <= 0 {
		cfg.Wallet.ChainPollSeconds = 5
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hilo.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
