package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"banksync/internal/app"
	"banksync/internal/config"
	"banksync/internal/core"
	"banksync/internal/log"
)

const movements = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<HesapHareketleriGetirResponse><Sonuc><Kod>0</Kod></Sonuc><Hareketler>
<Hareket><IslemNo>ZR-77</IslemNo><Tarih>14.10.2026 10:00:00</Tarih><Tutar>99,90</Tutar><BA>B</BA><Aciklama>FATURA</Aciklama></Hareket>
</Hareketler></HesapHareketleriGetirResponse></soap:Body></soap:Envelope>`

type harness struct {
	t   *testing.T
	cfg *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.Header.Get("SOAPAction"), "/HesaplariGetir") {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, movements)
	}))
	t.Cleanup(srv.Close)

	return &harness{t: t, cfg: &config.Config{
		Port:               "8082",
		DataBackend:        "sqlite",
		SQLiteDBPath:       filepath.Join(t.TempDir(), "banksync.db"),
		MasterKey:          "cli-test-key",
		SyncBatchSize:      10,
		SyncMaxConcurrent:  1,
		SyncAccountTimeout: 5 * time.Second,
		SyncWindowDays:     3,
		SyncMaxAttempts:    1,
		BankSyncSchedule:   "0 */4 * * *",
		StuckJobThreshold:  2 * time.Minute,
		LogRetention:       time.Hour,
		BankHTTPTimeout:    5 * time.Second,
		ZiraatEndpoint:     srv.URL,
		VakifbankEndpoint:  srv.URL,
		HalkbankEndpoint:   srv.URL,
	}}
}

// run executes one bankctl invocation on a fresh command tree.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	open := func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, h.cfg, log.Discard())
	}
	root := NewRootCommand(open, "test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("bankctl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestJobsCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("jobs", "list")
	for _, name := range []string{app.JobBankSync, app.JobStuckSweeper, app.JobLogRetention} {
		if !strings.Contains(out, name) {
			t.Errorf("jobs list missing %s:\n%s", name, out)
		}
	}

	out = h.mustRun("jobs", "reschedule", app.JobBankSync, "0 */2 * * *")
	if !strings.Contains(out, `"0 */2 * * *"`) {
		t.Errorf("unexpected reschedule output %q", out)
	}
	if _, err := h.run("jobs", "reschedule", app.JobBankSync, "not a cron"); err == nil {
		t.Error("expected invalid schedule to fail")
	}

	h.mustRun("jobs", "disable", app.JobLogRetention)
	out = h.mustRun("jobs", "run", app.JobLogRetention)
	if !strings.Contains(out, `"status": "SUCCESS"`) || !strings.Contains(out, `"forced": true`) {
		t.Errorf("unexpected run output:\n%s", out)
	}

	out = h.mustRun("jobs", "logs", app.JobLogRetention)
	if !strings.Contains(out, "SUCCESS") {
		t.Errorf("logs should list the forced run:\n%s", out)
	}
	out = h.mustRun("jobs", "logs", app.JobLogRetention, "--clear")
	if !strings.Contains(out, "deleted 1 log(s)") {
		t.Errorf("unexpected clear output %q", out)
	}

	out = h.mustRun("jobs", "list")
	if !strings.Contains(out, "0 */2 * * *") {
		t.Errorf("new schedule not persisted:\n%s", out)
	}

	if _, err := h.run("jobs", "run", "nope"); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("run unknown job error = %v", err)
	}

	// A ten minute old RUNNING row may belong to a daemon sync still in
	// progress; only an explicit shorter age clears it.
	a, err := app.New(context.Background(), h.cfg, log.Discard())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if _, err := a.Store.CreateLog(context.Background(), app.JobBankSync, time.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	a.Close()

	out = h.mustRun("jobs", "clear-stuck")
	if !strings.Contains(out, "cleared 0") {
		t.Errorf("unexpected clear-stuck output %q", out)
	}
	out = h.mustRun("jobs", "clear-stuck", "--older-than", "5m")
	if !strings.Contains(out, "cleared 1") {
		t.Errorf("unexpected clear-stuck output %q", out)
	}
	if _, err := h.run("jobs", "clear-stuck", "--older-than", "0s"); err == nil {
		t.Error("expected non-positive age to fail")
	}
}

func TestAccountLifecycle(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("accounts", "add", "--bank", "Ziraat", "--number", "12345",
		"--cred", "customer_no=42", "--cred", "username=ali", "--cred", "password=old")
	if !strings.Contains(out, "account 1 created") {
		t.Fatalf("unexpected add output %q", out)
	}

	h.mustRun("credentials", "set", "1", "password", "new-secret")

	out = h.mustRun("sync", "1", "--from", "2026-10-13", "--to", "2026-10-15")
	if !strings.Contains(out, `"mode": "direct"`) || !strings.Contains(out, `"new_transactions": 1`) {
		t.Errorf("unexpected sync output:\n%s", out)
	}

	out = h.mustRun("accounts", "transactions", "1")
	if !strings.Contains(out, "ZR-77") || !strings.Contains(out, "-99.90") || !strings.Contains(out, " out ") {
		t.Errorf("stored transaction missing:\n%s", out)
	}
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown bank", []string{"accounts", "add", "--bank", "garanti", "--number", "1"}, "no adapter registered"},
		{"missing number and iban", []string{"accounts", "add", "--bank", "ziraat"}, "--number or --iban"},
		{"bad account id", []string{"sync", "abc"}, "positive integer"},
		{"bad date", []string{"sync", "1", "--from", "13/10/2026"}, "--from must be YYYY-MM-DD"},
		{"reversed range", []string{"sync", "1", "--from", "2026-10-15", "--to", "2026-10-01"}, ""},
		{"missing account", []string{"sync", "99"}, "not found"},
		{"credential for missing account", []string{"credentials", "set", "99", "password", "x"}, "not found"},
		{"queue without broker", []string{"sync", "1", "--queue"}, "broker unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
