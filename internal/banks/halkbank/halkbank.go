// Package halkbank implements the Halkbank corporate statement protocol: a
// session-oriented XML exchange where Login yields a token that authorises
// later operations. Amounts arrive signed with comma decimals and carry no
// native reference number.
package halkbank

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"banksync/internal/banks"
	"banksync/internal/core"
)

const Code = "halkbank"

type Adapter struct {
	creds banks.Credentials
	opts  banks.Options

	mu    sync.Mutex
	token string
}

func New(creds banks.Credentials, opts banks.Options) (banks.Adapter, error) {
	return &Adapter{creds: creds, opts: opts}, nil
}

func Register(reg *banks.Registry, opts banks.Options) {
	reg.Register(Code, opts, New)
}

// Login opens a session and stores its token for later calls.
func (a *Adapter) Login(ctx context.Context) error {
	if err := a.creds.Require("username", "password", "company_code"); err != nil {
		return fmt.Errorf("%s login: %w", Code, err)
	}

	res, err := a.call(ctx, "Login", "", []field{
		{"CompanyCode", a.creds["company_code"]},
		{"Username", a.creds["username"]},
		{"Password", a.creds["password"]},
	})
	if err != nil {
		return err
	}
	token := strings.TrimSpace(res.Body.SessionToken)
	if token == "" {
		return &core.ParseError{Bank: Code, Field: "Body/SessionToken", Raw: res.raw}
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return nil
}

func (a *Adapter) session(ctx context.Context) (string, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := a.Login(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, nil
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	token, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := a.call(ctx, "GetAccounts", token, nil)
	if err != nil {
		return nil, err
	}

	out := make([]core.AccountBalance, 0, len(res.Body.Accounts))
	for _, acc := range res.Body.Accounts {
		bal, err := core.ParseDecimal(acc.Balance, core.CommaDecimal)
		if err != nil {
			return nil, &core.ParseError{Bank: Code, Field: "Account/Balance", Raw: acc.Inner, Err: err}
		}
		out = append(out, core.AccountBalance{
			AccountNumber: strings.TrimSpace(acc.AccountNo),
			IBAN:          strings.TrimSpace(acc.IBAN),
			Currency:      currency(acc.Currency),
			Balance:       bal,
		})
	}
	return out, nil
}

func (a *Adapter) FetchTransactions(ctx context.Context, accountIdentifier string, start, end time.Time) ([]core.UnifiedTransaction, error) {
	token, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := a.call(ctx, "GetStatement", token, []field{
		{"AccountNo", accountIdentifier},
		{"StartDate", start.In(banks.TurkeyTime).Format("2006-01-02")},
		{"EndDate", end.In(banks.TurkeyTime).Format("2006-01-02")},
	})
	if err != nil {
		return nil, err
	}

	txs := make([]core.UnifiedTransaction, 0, len(res.Body.Movements))
	for _, m := range res.Body.Movements {
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

func buildRequest(op, token string, fields []field) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Request><Header>`)
	fmt.Fprintf(&b, "<Operation>%s</Operation>", op)
	if token != "" {
		fmt.Fprintf(&b, "<SessionToken>%s</SessionToken>", banks.Escape(token))
	}
	b.WriteString(`</Header><Body>`)
	for _, f := range fields {
		fmt.Fprintf(&b, "<%s>%s</%s>", f.name, banks.Escape(f.value), f.name)
	}
	b.WriteString(`</Body></Request>`)
	return []byte(b.String())
}

func (a *Adapter) call(ctx context.Context, op, token string, fields []field) (*response, error) {
	body, err := banks.Post(ctx, a.opts.Client, banks.Request{
		Bank:        Code,
		Op:          op,
		URL:         a.opts.Endpoint,
		ContentType: "application/xml; charset=utf-8",
		Body:        buildRequest(op, token, fields),
	})
	if err != nil {
		return nil, err
	}

	var res response
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, &core.ParseError{Bank: Code, Field: "Response", Raw: string(body), Err: err}
	}
	res.raw = string(body)
	if res.Status == nil {
		return nil, &core.ParseError{Bank: Code, Field: "Status", Raw: res.raw}
	}
	if code := strings.TrimSpace(res.Status.Code); code != "0" {
		if code == "" {
			return nil, &core.ParseError{Bank: Code, Field: "Status/@code", Raw: res.raw}
		}
		if op != "Login" && isSessionExpired(code) {
			a.mu.Lock()
			a.token = ""
			a.mu.Unlock()
		}
		return nil, &core.UpstreamError{Bank: Code, Code: code, Description: strings.TrimSpace(res.Status.Description)}
	}
	return &res, nil
}

// isSessionExpired reports codes after which the cached token is unusable.
func isSessionExpired(code string) bool {
	return code == "401" || code == "SESSION_EXPIRED"
}

type response struct {
	Status *struct {
		Code        string `xml:"code,attr"`
		Description string `xml:"description,attr"`
	} `xml:"Status"`
	Body struct {
		SessionToken string     `xml:"SessionToken"`
		Movements    []movement `xml:"Movements>Movement"`
		Accounts     []account  `xml:"Accounts>Account"`
	} `xml:"Body"`

	raw string
}

type account struct {
	AccountNo string `xml:"AccountNo"`
	IBAN      string `xml:"Iban"`
	Currency  string `xml:"Currency"`
	Balance   string `xml:"Balance"`
	Inner     string `xml:",innerxml"`
}

type movement struct {
	Date         string `xml:"Date"`
	Amount       string `xml:"Amount"`
	Currency     string `xml:"Currency"`
	Explanation  string `xml:"Explanation"`
	Counterparty string `xml:"Counterparty"`
	Balance      string `xml:"Balance"`
	Inner        string `xml:",innerxml"`
}

func (m movement) unified() (core.UnifiedTransaction, error) {
	raw := "<Movement>" + m.Inner + "</Movement>"
	if strings.TrimSpace(m.Date) == "" {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Movement/Date", Raw: raw}
	}
	if strings.TrimSpace(m.Amount) == "" {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Movement/Amount", Raw: raw}
	}

	date, err := banks.ParseTime(m.Date, banks.TurkeyTime, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02")
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Movement/Date", Raw: raw, Err: err}
	}
	// The sign is carried on the amount itself.
	amount, err := core.ParseDecimal(m.Amount, core.CommaDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Movement/Amount", Raw: raw, Err: err}
	}
	balance, err := banks.OptionalDecimal(m.Balance, core.CommaDecimal)
	if err != nil {
		return core.UnifiedTransaction{}, &core.ParseError{Bank: Code, Field: "Movement/Balance", Raw: raw, Err: err}
	}

	description := strings.TrimSpace(m.Explanation)
	return core.UnifiedTransaction{
		BankRefID:       banks.DeriveRefID(Code, date, amount, description),
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
	if c == "" || c == "TL" {
		return "TRY"
	}
	return c
}
