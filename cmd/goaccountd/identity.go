package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
)

func parseStatus(s string) (goAccount.AccountStatus, error) {
	switch strings.ToLower(s) {
	case "pending", "pending_verification":
		return goAccount.AccountPendingVerification, nil
	case "active":
		return goAccount.AccountActive, nil
	case "disabled":
		return goAccount.AccountDisabled, nil
	}
	return 0, fmt.Errorf("unknown account status %q", s)
}

// staticDirectory serves accounts listed in the config file.
type staticDirectory map[string]goAccount.Account

func newStaticDirectory(accounts []StaticAccount) (staticDirectory, error) {
	d := make(staticDirectory, len(accounts))
	for _, a := range accounts {
		status, err := parseStatus(a.Status)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID, err)
		}
		d[a.ID] = goAccount.Account{ID: a.ID, Email: a.Email, Status: status}
	}
	return d, nil
}

func (d staticDirectory) LookupAccount(_ context.Context, id string) (goAccount.Account, error) {
	a, ok := d[id]
	if !ok {
		return goAccount.Account{}, goAccount.ErrAccountNotFound
	}
	return a, nil
}

// httpDirectory asks the owning account service: GET {base}/{id} answers
// {"id","email","status"} or 404.
type httpDirectory struct {
	base   string
	client *http.Client
}

func newHTTPDirectory(base string, timeout time.Duration) *httpDirectory {
	return &httpDirectory{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (d *httpDirectory) LookupAccount(ctx context.Context, id string) (goAccount.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/"+url.PathEscape(id), nil)
	if err != nil {
		return goAccount.Account{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return goAccount.Account{}, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return goAccount.Account{}, goAccount.ErrAccountNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return goAccount.Account{}, fmt.Errorf("identity lookup: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return goAccount.Account{}, fmt.Errorf("identity lookup: decode: %w", err)
	}
	status, err := parseStatus(body.Status)
	if err != nil {
		return goAccount.Account{}, fmt.Errorf("identity lookup: %w", err)
	}
	if body.ID == "" {
		body.ID = id
	}
	return goAccount.Account{ID: body.ID, Email: body.Email, Status: status}, nil
}
