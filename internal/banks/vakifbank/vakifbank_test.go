package vakifbank

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"banksync/internal/banks"
	"banksync/internal/core"
)

const movementsResponse = `<?xml version="1.0" encoding="UTF-8"?>
<HesapHareketleriCevap>
  <IslemKodu>0000</IslemKodu>
  <IslemAciklamasi>Basarili</IslemAciklamasi>
  <Hesaplar>
    <Hesap>
      <HesapNo>00158007300000001</HesapNo>
      <DovizTipi>TL</DovizTipi>
      <Hareketler>
        <Hareket>
          <IslemNo>VB-77</IslemNo>
          <IslemTarihi>2026-10-15 14:03:00</IslemTarihi>
          <Tutar>1250.00</Tutar>
          <BorcAlacak>A</BorcAlacak>
          <Aciklama>HAVALE</Aciklama>
          <KarsiUnvan>ACME LTD</KarsiUnvan>
          <IslemSonrasiBakiye>5250.00</IslemSonrasiBakiye>
        </Hareket>
        <Hareket>
          <IslemTarihi>2026-10-15 16:40:00</IslemTarihi>
          <Tutar>89.90</Tutar>
          <BorcAlacak>B</BorcAlacak>
          <Aciklama>POS HARCAMA</Aciklama>
        </Hareket>
      </Hareketler>
    </Hesap>
  </Hesaplar>
</HesapHareketleriCevap>`

func newAdapter(t *testing.T, handler http.HandlerFunc) banks.Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(banks.Credentials{"customer_no": "9001", "password": "secret"},
		banks.Options{Endpoint: srv.URL + "/", Client: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestFetchTransactions(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		io.WriteString(w, movementsResponse)
	})

	start := time.Date(2026, 10, 13, 0, 0, 0, 0, banks.TurkeyTime)
	end := time.Date(2026, 10, 16, 0, 0, 0, 0, banks.TurkeyTime)
	txs, err := a.FetchTransactions(context.Background(), "00158007300000001", start, end)
	if err != nil {
		t.Fatalf("FetchTransactions: %v", err)
	}

	if gotPath != "/HesapHareketleri" {
		t.Errorf("path = %q", gotPath)
	}
	want := map[string]string{
		"MusteriNo":       "9001",
		"Sifre":           "secret",
		"HesapNo":         "00158007300000001",
		"BaslangicTarihi": "2026-10-13",
		"BitisTarihi":     "2026-10-16",
	}
	for k, v := range want {
		if got := gotForm[k]; len(got) != 1 || got[0] != v {
			t.Errorf("form %s = %v, want %q", k, got, v)
		}
	}

	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("1250")) || txs[0].BankRefID != "VB-77" {
		t.Errorf("credit = %s/%s", txs[0].Amount, txs[0].BankRefID)
	}
	if !txs[1].Amount.Equal(decimal.RequireFromString("-89.90")) {
		t.Errorf("debit = %s", txs[1].Amount)
	}
	if len(txs[1].BankRefID) != 32 {
		t.Errorf("expected derived ref, got %q", txs[1].BankRefID)
	}
	if txs[1].BalanceAfter != nil {
		t.Errorf("expected no balance, got %s", txs[1].BalanceAfter)
	}
	if txs[0].Currency != "TRY" {
		t.Errorf("currency = %q", txs[0].Currency)
	}
	if txs[0].TransactionDate.Hour() != 14 {
		t.Errorf("date = %s", txs[0].TransactionDate)
	}
}

func TestListAccounts(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Hesaplar" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `<Cevap><IslemKodu>0000</IslemKodu><Hesaplar>
<Hesap><HesapNo>1</HesapNo><IBAN>TR12 0001 5001</IBAN><DovizTipi>USD</DovizTipi><Bakiye>10.50</Bakiye></Hesap>
</Hesaplar></Cevap>`)
	})
	accounts, err := a.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Currency != "USD" || !accounts[0].Balance.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
}

func TestErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "upstream",
			body: `<Cevap><IslemKodu>1203</IslemKodu><IslemAciklamasi>Hatali sifre</IslemAciklamasi></Cevap>`,
			check: func(t *testing.T, err error) {
				var ue *core.UpstreamError
				if !errors.As(err, &ue) || ue.Code != "1203" {
					t.Fatalf("expected UpstreamError, got %v", err)
				}
			},
		},
		{
			name: "bad indicator",
			body: `<Cevap><IslemKodu>0000</IslemKodu><Hesaplar><Hesap><Hareketler><Hareket><IslemTarihi>2026-10-15</IslemTarihi><Tutar>1.00</Tutar><BorcAlacak>X</BorcAlacak></Hareket></Hareketler></Hesap></Hesaplar></Cevap>`,
			check: func(t *testing.T, err error) {
				var pe *core.ParseError
				if !errors.As(err, &pe) || pe.Field != "Hareket/BorcAlacak" {
					t.Fatalf("expected ParseError on indicator, got %v", err)
				}
			},
		},
		{
			name: "bad date",
			body: `<Cevap><IslemKodu>0000</IslemKodu><Hesaplar><Hesap><Hareketler><Hareket><IslemTarihi>15/10/2026</IslemTarihi><Tutar>1.00</Tutar><BorcAlacak>A</BorcAlacak></Hareket></Hareketler></Hesap></Hesaplar></Cevap>`,
			check: func(t *testing.T, err error) {
				var pe *core.ParseError
				if !errors.As(err, &pe) || pe.Field != "Hareket/IslemTarihi" {
					t.Fatalf("expected ParseError on date, got %v", err)
				}
			},
		},
		{
			name: "not xml",
			body: `<html>oops`,
			check: func(t *testing.T, err error) {
				var pe *core.ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected ParseError, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.body)
			})
			_, err := a.FetchTransactions(context.Background(), "1", time.Now(), time.Now())
			tc.check(t, err)
		})
	}
}
