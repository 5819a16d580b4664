// Package all wires every supported bank into a registry.
package all

import (
	"net/http"
	"time"

	"banksync/internal/banks"
	"banksync/internal/banks/halkbank"
	"banksync/internal/banks/vakifbank"
	"banksync/internal/banks/ziraat"
	"banksync/internal/config"
)

type Endpoints struct {
	Ziraat    string
	Vakifbank string
	Halkbank  string
}

// NewRegistry registers the three adapters sharing one HTTP client.
func NewRegistry(endpoints Endpoints, client banks.Doer) *banks.Registry {
	reg := banks.NewRegistry()
	ziraat.Register(reg, banks.Options{Endpoint: endpoints.Ziraat, Client: client})
	vakifbank.Register(reg, banks.Options{Endpoint: endpoints.Vakifbank, Client: client})
	halkbank.Register(reg, banks.Options{Endpoint: endpoints.Halkbank, Client: client})
	return reg
}

// FromConfig builds the registry from application settings.
func FromConfig(cfg *config.Config) *banks.Registry {
	timeout := cfg.BankHTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewRegistry(Endpoints{
		Ziraat:    cfg.ZiraatEndpoint,
		Vakifbank: cfg.VakifbankEndpoint,
		Halkbank:  cfg.HalkbankEndpoint,
	}, &http.Client{Timeout: timeout})
}
