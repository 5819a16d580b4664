// Package vakifbank integrates VakıfBank's form-posted statement service.
// Requests are URL-encoded forms with ISO dates; responses are plain XML with
// dot-decimal amounts and a BorcAlacak (B/A) indicator.
package vakifbank

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"banksync/internal/banks"
	"banksync/internal/core"
)

const (
	Code = "vakifbank"

	successCode = "0000"
)

type Adapter struct {
	creds banks.Credentials
	opts  banks.Options
}

func New(creds banks.Credentials, opts banks.Options) (banks.Adapter, error) {
	return &Adapter{creds: creds, opts: opts}, nil
}

func Register(reg *banks.Registry, opts banks.Options) {
	reg.Register(Code, opts, New)
}

func (a *Adapter) Login(ctx context.Context) error {
	if err := a.creds.Require("customer_no", "password"); err != nil {
		return fmt.Errorf("%s login: %w", Code, err)
	}
	return nil
}

func (a *Adapter) form() url.Values {
	v := url.Values{}
	v.Set("MusteriNo", a.creds["customer_no"])
	v.Set("Sifre", a.creds["password"])
	if u := a.creds["username"]; u != "" {
		v.Set("KurumKullanici", u)
	}
	return v
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	if err := a.Login(ctx); err != nil {
		return nil, err
	}
	res, err := a.post(ctx, "Hesaplar", a.form())
	if err != nil {
		return nil, err
	}

	out := make([]core.AccountBalance, 0, len(res.Accounts))
	for _, h := range res.Accounts {
		bal, err := core.ParseDecimal(h.Balance, core.DotDecimal)
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

	form := a.form()
	form.Set("HesapNo", accountIdentifier)
	form.Set("BaslangicTarihi", start.In(banks.TurkeyTime).Format("2006-01-02"))
	form.Set("BitisTarihi", end.In(banks.TurkeyTime).Format("2006-01-02"))

	res, err := a.post(ctx, "HesapHareketleri", form)
	if err != nil {
		return nil, err
	}

	var txs []core.UnifiedTransaction
	for _, h := range res.Accounts {
		for _, m := range h.Movements {
			tx, err := m.unified(currency(h.Currency))
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (a *Adapter) post(ctx context.Context, op string, form url.Values) (*response, error) {
	body, err := banks.Post(ctx, a.opts.Client, banks.Request{
		Bank:        Code,
		Op:          op,
		URL:         strings.TrimRight(a.opts.Endpoint, "/") + "/" + op,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}

	var res response
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, &core.ParseError{Bank: Code, Field: "response", Raw: string(body), Err: err}
	}
	code := strings.TrimSpace(res.Code)
	if code == "" {
		return nil, &core.ParseError{Bank: Code, Field: "IslemKodu", Raw: string(body)}
	}
	if code != successCode {
		return nil, &core.UpstreamError{Bank: Code, Code: code, Description: strings.TrimSpace(res.Description)}
	}
	return &res, nil
}

type response struct {
	Code        string    `xml:"IslemKodu"`
	Description string    `xml:"IslemAciklamasi"`
	Accounts    []account `xml:"Hesaplar>Hesap"`
}

type account struct {
	AccountNo string     `xml:"HesapNo"`
	IBAN      string     `xml:"IBAN"`
	Currency  string     `xml:"DovizTipi"`
	Balance   string     `xml:"Bakiye"`
	Movements []movement `xml:"Hareketler>Hareket"`
	Inner     string     `xml:",innerxml"`
}

type movement struct {
	Ref          string `xml:"IslemNo"`
	Date         string `xml:"IslemTarihi"`
	Amount       string `xml:"Tutar"`
	Indicator    string `xml:"BorcAlacak"`
	Description  string `xml:"Aciklama"`
	Counterparty string `xml:"KarsiUnvan"`
	Balance      string `xml:"IslemSonrasiBakiye"`
	Inner        string `xml:",innerxml"`
}

func (m movement) unified(cur string) (core.UnifiedTransaction, error) {
	raw := "<Hareket>" + m.Inner + "</Hareket>"
	for _, f := range [][2]string{{"IslemTarihi", m.Date}, {"Tutar", m.Amount}, {"BorcAlacak", m.Indicator}} {
		if strings.TrimSpace(f[1]) == "" {
			return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/" + f[0], Raw: raw}
		}
	}

	date, err := banks.ParseTime(m.Date, banks.TurkeyTime, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02")
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/IslemTarihi", Raw: raw, Err: err}
	}
	amount, err := core.ParseDecimal(m.Amount, core.DotDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/Tutar", Raw: raw, Err: err}
	}

	switch strings.ToUpper(strings.TrimSpace(m.Indicator)) {
	case "B", "BORC":
		amount = core.SignedAmount(amount, true)
	case "A", "ALACAK":
		amount = core.SignedAmount(amount, false)
	default:
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/BorcAlacak", Raw: raw,
			Err: fmt.Errorf("unknown indicator %q", m.Indicator)}
	}

	balance, err := banks.OptionalDecimal(m.Balance, core.DotDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Hareket/IslemSonrasiBakiye", Raw: raw, Err: err}
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
		Currency:        cur,
		Description:     description,
		Counterparty:    banks.OptionalString(m.Counterparty),
		BalanceAfter:    balance,
		Raw:             raw,
	}, nil
}

func currency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" || c == "TL" {
		return "TRY"
	}
	return c
}
