package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	successColor = "\033[32m" // Green
	errorColor   = "\033[31m" // Red
	infoColor    = "\033[34m" // Blue
	resetColor   = "\033[0m"  // Reset color

	loadPassword = "loadtest-password"
	loadPin      = "4321"
)

type account struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
	token    string
}

type client struct {
	baseURL string
	http    *http.Client
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	adminUser := flag.String("admin-user", "admin", "Admin username used to fund accounts")
	adminPassword := flag.String("admin-password", "", "Admin password")
	numAccounts := flag.Int("accounts", 50, "Number of accounts to create")
	numTransfers := flag.Int("transfers", 5000, "Total number of transfers")
	maxConcurrency := flag.Int("concurrency", 100, "Maximum number of concurrent requests")
	initialBalance := flag.Int64("balance", 10000, "Initial balance for each account")
	maxAmount := flag.Int64("max-amount", 500, "Maximum transfer amount")
	flag.Parse()

	if *adminPassword == "" || *numAccounts < 2 {
		fmt.Fprintln(os.Stderr, "-admin-password is required and -accounts must be at least 2")
		os.Exit(2)
	}

	c := &client{baseURL: *baseURL, http: &http.Client{Timeout: 30 * time.Second}}

	adminToken, err := c.login(*adminUser, *adminPassword)
	if err != nil {
		fmt.Printf("%sAdmin login failed: %v%s\n", errorColor, err, resetColor)
		os.Exit(1)
	}

	fmt.Printf("%sstarting a heavy load test with %d accounts and %d transfers%s\n",
		infoColor, *numAccounts, *numTransfers, resetColor)

	accounts := c.createAccounts(adminToken, *numAccounts, decimal.NewFromInt(*initialBalance))
	if len(accounts) < 2 {
		fmt.Printf("%sNot enough accounts created, aborting%s\n", errorColor, resetColor)
		os.Exit(1)
	}
	fmt.Printf("%sCreated %d accounts%s\n", successColor, len(accounts), resetColor)

	// Create semaphore for limiting concurrency
	sem := make(chan struct{}, *maxConcurrency)
	var wg sync.WaitGroup

	// Track performance
	startTime := time.Now()
	counts := map[int]int{}
	var countsMutex sync.Mutex

	fmt.Printf("%slaunching %d transfers with max concurrency of %d%s\n",
		infoColor, *numTransfers, *maxConcurrency, resetColor)

	for i := 0; i < *numTransfers; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire semaphore

		go func(txNum int) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			from := accounts[rand.Intn(len(accounts))]
			to := accounts[rand.Intn(len(accounts))]
			for to.ID == from.ID {
				to = accounts[rand.Intn(len(accounts))]
			}

			// Random amount between 1.00 and maxAmount, in cents
			cents := 100 + rand.Int63n(*maxAmount*100-99)
			amount := decimal.New(cents, -2)

			status, err := c.transfer(from.token, to.Username, amount)

			countsMutex.Lock()
			counts[status]++
			countsMutex.Unlock()

			if err != nil && txNum%100 == 0 { // Only log some failures to avoid overwhelming output
				fmt.Printf("%sTransfer failed: %v%s\n", errorColor, err, resetColor)
			}
		}(i)
	}

	// Wait for all transfers to complete
	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n%s=== heavy load Test Results ===%s\n", infoColor, resetColor)
	fmt.Printf("Total number of transfers: %d\n", *numTransfers)
	for status, n := range counts {
		color := errorColor
		if status == http.StatusOK {
			color = successColor
		}
		fmt.Printf("HTTP %d: %s%d (%.1f%%)%s\n",
			status, color, n, float64(n)/float64(*numTransfers)*100, resetColor)
	}
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Throughput: %.2f transfers/second\n", float64(*numTransfers)/duration.Seconds())

	fmt.Printf("\n%sChecking that money was conserved...%s\n", infoColor, resetColor)
	if err := c.checkConservation(adminToken, accounts, decimal.NewFromInt(*initialBalance)); err != nil {
		fmt.Printf("%s%v%s\n", errorColor, err, resetColor)
		os.Exit(1)
	}
}

// do sends a JSON request and decodes a 2xx body into out.
func (c *client) do(method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal JSON: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s, status: %d, body: %s", method, path, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) login(username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	_, err := c.do(http.MethodPost, "/api/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	return resp.Token, err
}

// createAccounts signs up, funds and logs in count fresh accounts
func (c *client) createAccounts(adminToken string, count int, initialBalance decimal.Decimal) []*account {
	accounts := make([]*account, 0, count)
	run := uuid.New().String()[:8]

	for i := 0; i < count; i++ {
		username := fmt.Sprintf("load-%s-%d", run, i)
		var a account
		_, err := c.do(http.MethodPost, "/api/signup", "", map[string]string{
			"username": username,
			"email":    username + "@loadtest.example.com",
			"password": loadPassword,
			"pin":      loadPin,
		}, &a)
		if err != nil {
			fmt.Printf("%sFailed to create account: %v%s\n", errorColor, err, resetColor)
			continue
		}

		_, err = c.do(http.MethodPost, "/api/admin/transactions", adminToken, map[string]any{
			"userId":    a.ID,
			"type":      "deposit",
			"amount":    initialBalance,
			"timestamp": time.Now().UTC(),
			"recipientInfo": map[string]string{
				"transferMethod": "other",
				"method":         "load test funding",
			},
		}, nil)
		if err != nil {
			fmt.Printf("%sFailed to fund account %s: %v%s\n", errorColor, a.ID, err, resetColor)
			continue
		}

		a.token, err = c.login(username, loadPassword)
		if err != nil {
			fmt.Printf("%sFailed to log in as %s: %v%s\n", errorColor, username, err, resetColor)
			continue
		}

		accounts = append(accounts, &a)
		if i%10 == 0 || i == count-1 {
			fmt.Printf("%screated account %d/%d: %s with balance %s%s\n",
				successColor, i+1, count, a.ID, initialBalance.StringFixed(2), resetColor)
		}
	}

	return accounts
}

func (c *client) transfer(token, recipient string, amount decimal.Decimal) (int, error) {
	return c.do(http.MethodPost, "/api/transfer", token, map[string]any{
		"recipient":      recipient,
		"recipientType":  "username",
		"amount":         amount,
		"pin":            loadPin,
		"transferMethod": "direct",
	}, nil)
}

// checkConservation verifies direct transfers only moved money between the
// load accounts: their balances must still sum to what was deposited.
func (c *client) checkConservation(adminToken string, accounts []*account, initialBalance decimal.Decimal) error {
	var all []account
	if _, err := c.do(http.MethodGet, "/api/admin/users", adminToken, nil, &all); err != nil {
		return err
	}

	ours := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		ours[a.ID] = true
	}

	total := decimal.Zero
	for _, a := range all {
		if ours[a.ID] {
			total = total.Add(a.Balance)
		}
	}

	want := initialBalance.Mul(decimal.NewFromInt(int64(len(accounts))))
	if !total.Equal(want) {
		return fmt.Errorf("balances sum to %s, want %s", total.StringFixed(2), want.StringFixed(2))
	}
	fmt.Printf("%sBalances sum to %s across %d accounts, as deposited%s\n",
		successColor, total.StringFixed(2), len(accounts), resetColor)
	return nil
}
