// Package ziraat talks to Ziraat Bankası's SOAP account-movement service.
//
// Requests are SOAP 1.1 envelopes carrying the customer credentials; dates are
// day.month.year and amounts use comma decimals ("1.250,00") with a separate
// B/A (borç/alacak) debit-credit indicator.
package ziraat

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"banksync/internal/banks"
	"banksync/internal/core"
)

const (
	Code = "ziraat"

	namespace  = "http://ziraat.com.tr/hesaphareket"
	dateLayout = "02.01.2006"
)

type Adapter struct {
	creds banks.Credentials
	opts  banks.Options
}

func New(creds banks.Credentials, opts banks.Options) (banks.Adapter, error) {
	return &Adapter{creds: creds, opts: opts}, nil
}

// Register adds the adapter under its bank code.
func Register(reg *banks.Registry, opts banks.Options) {
	reg.Register(Code, opts, New)
}

// Login only checks the credential set: the service is stateless and
// authenticates every envelope.
func (a *Adapter) Login(ctx context.Context) error {
	if err := a.creds.Require("customer_no", "username", "password"); err != nil {
		return fmt.Errorf("%s login: %w", Code, err)
	}
	return nil
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	if err := a.Login(ctx); err != nil {
		return nil, err
	}

	env, err := a.call(ctx, "HesaplariGetir", a.authFields())
	if err != nil {
		return nil, err
	}

	out := make([]core.AccountBalance, 0, len(env.Body.Response.Accounts))
	for _, h := range env.Body.Response.Accounts {
		if strings.TrimSpace(h.Balance) == "" {
			return nil, &core.ParseError{Bank: Code, Field: "Hesap/Bakiye", Raw: h.Inner}
		}
		bal, err := core.ParseDecimal(h.Balance, core.CommaDecimal)
		if err != nil {
			return nil, &core.ParseError{Bank: Code, Field: "Hesap/Bakiye", Raw: h.Inner, Err: err}
		}
		out = append(out, core.AccountBalance{
			AccountNumber: strings.TrimSpace(h.AccountNo),
			IBAN:          strings.TrimSpace(h.IBAN),
			Currency:      currency(h.Currency),
			Balance:       bal,
		})
	}
	return out, nil
}

func (a *Adapter) FetchTransactions(ctx context.Context, accountIdentifier string, start, end time.Time) ([]core.UnifiedTransaction, error) {
	if err := a.Login(ctx); err != nil {
		return nil, err
	}

	fields := append(a.authFields(),
		field{"HesapNo", accountIdentifier},
		field{"BaslangicTarihi", start.In(banks.TurkeyTime).Format(dateLayout)},
		field{"BitisTarihi", end.In(banks.TurkeyTime).Format(dateLayout)},
	)
	env, err := a.call(ctx, "HesapHareketleriGetir", fields)
	if err != nil {
		return nil, err
	}

	txs := make([]core.UnifiedTransaction, 0, len(env.Body.Response.Movements))
	for _, m := range env.Body.Response.Movements {
		tx, err := m.unified()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type field struct {
	name, value string
}

func (a *Adapter) authFields() []field {
	return []field{
		{"MusteriNo", a.creds["customer_no"]},
		{"KullaniciAdi", a.creds["username"]},
		{"Sifre", a.creds["password"]},
	}
}

func buildEnvelope(action string, fields []field) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:zir="` + namespace + `">`)
	b.WriteString(`<soapenv:Header/><soapenv:Body><zir:` + action + `>`)
	for _, f := range fields {
		fmt.Fprintf(&b, "<zir:%s>%s</zir:%s>", f.name, banks.Escape(f.value), f.name)
	}
	b.WriteString(`</zir:` + action + `></soapenv:Body></soapenv:Envelope>`)
	return []byte(b.String())
}

func (a *Adapter) call(ctx context.Context, action string, fields []field) (*envelope, error) {
	body, err := banks.Post(ctx, a.opts.Client, banks.Request{
		Bank:        Code,
		Op:          action,
		URL:         a.opts.Endpoint,
		ContentType: "text/xml; charset=utf-8",
		Body:        buildEnvelope(action, fields),
		Headers:     map[string]string{"SOAPAction": namespace + "/" + action},
	})
	var status *banks.StatusError
	if errors.As(err, &status) {
		if fault := decodeFault(status.Body); fault != nil {
			return nil, fault
		}
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, &core.ParseError{Bank: Code, Field: "Envelope", Raw: string(body), Err: err}
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault.upstream()
	}
	result := env.Body.Response.Result
	if strings.TrimSpace(result.Code) == "" {
		return nil, &core.ParseError{Bank: Code, Field: "Sonuc/Kod", Raw: string(body)}
	}
	if strings.TrimSpace(result.Code) != "0" {
		return nil, &core.UpstreamError{Bank: Code, Code: strings.TrimSpace(result.Code), Description: strings.TrimSpace(result.Description)}
	}
	return &env, nil
}

// decodeFault returns the bank's SOAP Fault carried in body, if any.
func decodeFault(body []byte) error {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil || env.Body.Fault == nil {
		return nil
	}
	return env.Body.Fault.upstream()
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func (f *soapFault) upstream() error {
	return &core.UpstreamError{Bank: Code, Code: strings.TrimSpace(f.Code), Description: strings.TrimSpace(f.String)}
}

type envelope struct {
	Body struct {
		Fault    *soapFault `xml:"Fault"`
		Response struct {
			Result struct {
				Code        string `xml:"Kod"`
				Description string `xml:"Aciklama"`
			} `xml:"Sonuc"`
			Movements []movement `xml:"Hareketler>Hareket"`
			Accounts  []account  `xml:"Hesaplar>Hesap"`
		} `xml:",any"`
	} `xml:"Body"`
}

type account struct {
	AccountNo string `xml:"HesapNo"`
	IBAN      string `xml:"IBAN"`
	Currency  string `xml:"DovizKodu"`
	Balance   string `xml:"Bakiye"`
	Inner     string `xml:",innerxml"`
}

type movement struct {
	Ref          string `xml:"IslemNo"`
	Date         string `xml:"Tarih"`
	Amount       string `xml:"Tutar"`
	Indicator    string `xml:"BA"`
	Description  string `xml:"Aciklama"`
	Counterparty string `xml:"KarsiTaraf"`
	Balance      string `xml:"Bakiye"`
	Currency     string `xml:"DovizKodu"`
	Inner        string `xml:",innerxml"`
}

func (m movement) unified() (core.UnifiedTransaction, error) {
	raw := "<Hareket>" + m.Inner + "</Hareket>"
	if strings.TrimSpace(m.Date) == "" {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Tarih", Raw: raw}
	}
	if strings.TrimSpace(m.Amount) == "" {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Tutar", Raw: raw}
	}

	date, err := banks.ParseTime(m.Date, banks.TurkeyTime, "02.01.2006 15:04:05", "02.01.2006 15:04", dateLayout)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Tarih", Raw: raw, Err: err}
	}
	amount, err := core.ParseDecimal(m.Amount, core.CommaDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Tutar", Raw: raw, Err: err}
	}

	var debit bool
	switch strings.ToUpper(strings.TrimSpace(m.Indicator)) {
	case "B":
		debit = true
	case "A":
		debit = false
	case "":
		debit = amount.IsNegative()
	default:
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/BA", Raw: raw,
			Err: fmt.Errorf("unknown indicator %q", m.Indicator)}
	}
	amount = core.SignedAmount(amount, debit)

	balance, err := banks.OptionalDecimal(m.Balance, core.CommaDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Bakiye", Raw: raw, Err: err}
	}

	description := strings.TrimSpace(m.Description)
	ref := strings.TrimSpace(m.Ref)
	if ref == "" {
		ref = banks.DeriveRefID(Code, date, amount, description)
	}

	return core.UnifiedTransaction{
		BankRefID:       ref,
		TransactionDate: date,
		Amount:          amount,
		Currency:        currency(m.Currency),
		Description:     description,
		Counterparty:    banks.OptionalString(m.Counterparty),
		BalanceAfter:    balance,
		Raw:             raw,
	}, nil
}

func currency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "", "TL", "YTL":
		return "TRY"
	default:
		return c
	}
}
