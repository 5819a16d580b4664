package all

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"banksync/internal/banks"
	"banksync/internal/config"
	"banksync/internal/core"
)

func TestFromConfigRegistersAllBanks(t *testing.T) {
	reg := FromConfig(&config.Config{
		BankHTTPTimeout:   time.Second,
		ZiraatEndpoint:    "https://z.example",
		VakifbankEndpoint: "https://v.example",
		HalkbankEndpoint:  "https://h.example",
	})

	want := []string{"halkbank", "vakifbank", "ziraat"}
	if got := reg.Codes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Codes() = %v, want %v", got, want)
	}

	for _, code := range want {
		if _, err := reg.New(code, banks.Credentials{}); err != nil {
			t.Errorf("New(%q) error = %v", code, err)
		}
	}

	var unknown *core.UnknownBankError
	if _, err := reg.New("isbank", nil); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownBankError, got %v", err)
	}
}
