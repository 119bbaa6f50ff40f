package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"shuq/internal/middleware"
	"shuq/internal/session"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status  int
	Outcome string
	Body    string
	Err     error
}

type options struct {
	baseURL    string
	sku        string
	adminToken string
	statePath  string
	device     string
	timeout    time.Duration
}

// burst 一轮并发出价的参数。
type burst struct {
	amount      string
	requests    int
	concurrency int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "loadtest",
		Short:         "Fire concurrent offers at a shuq server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.baseURL, "base", "http://localhost:8080", "server base url")
	pf.StringVar(&o.sku, "sku", "LOADTEST-1", "product sku")
	pf.StringVar(&o.adminToken, "admin-token", "dev-admin-token", "admin token")
	pf.StringVar(&o.statePath, "state", ".loadtest/device.json", "device state file holding the session id")
	pf.StringVar(&o.device, "device", "loadtest", "device namespace inside the state file")
	pf.DurationVar(&o.timeout, "timeout", 5*time.Second, "per request timeout")

	root.AddCommand(newSeedCmd(o), newOffersCmd(o), newRateLimitCmd(o))
	return root
}

// seed 创建商品并预热缓存。
func newSeedCmd(o *options) *cobra.Command {
	var (
		price  string
		maxPct int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the load test product and warm its cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: o.timeout}
			headers := map[string]string{middleware.HeaderAdminToken: o.adminToken}
			body := map[string]any{
				"sku":                     o.sku,
				"name":                    "Load test product",
				"price":                   price,
				"max_discount_percentage": maxPct,
			}
			if err := doPOST(client, o.baseURL+"/api/products", body, headers); err != nil {
				// 商品已存在时继续预热
				fmt.Println("create product:", err)
			}
			if err := doPOST(client, fmt.Sprintf("%s/api/products/%s/preload", o.baseURL, o.sku), nil, headers); err != nil {
				return errors.Wrap(err, "preload")
			}
			fmt.Println("seed ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&price, "price", "100.00", "list price")
	cmd.Flags().IntVar(&maxPct, "max-discount", 40, "max discount percentage")
	return cmd
}

// offers 模拟多台设备共用一个会话 id 同时出价：每个议价周期最多一次 accepted。
func newOffersCmd(o *options) *cobra.Command {
	b := &burst{}
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Submit concurrent offers from devices sharing one session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sid, err := sharedSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: o.timeout}
			if err := openNegotiation(client, o.baseURL, o.sku, sid); err != nil {
				return errors.Wrap(err, "open negotiation")
			}

			fmt.Printf("start offer test: sku=%s session=%s requests=%d concurrency=%d\n", o.sku, sid, b.requests, b.concurrency)
			results := runOffers(client, o, b, sid)
			printSummary("offers", results)

			if n := countOutcome(results, "accepted"); n > 1 {
				return errors.Newf("%d offers accepted in one negotiation cycle", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&b.amount, "amount", "70.00", "offered amount")
	cmd.Flags().IntVar(&b.requests, "n", 50, "total offers")
	cmd.Flags().IntVar(&b.concurrency, "c", 20, "max concurrency")
	return cmd
}

// ratelimit 同一会话短时间内大量出价，观察 429。
func newRateLimitCmd(o *options) *cobra.Command {
	b := &burst{}
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Burst offers from one session to trigger the rate limiter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sid, err := sharedSession(cmd.Context(), o)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: o.timeout}
			fmt.Printf("start rate limit test: session=%s requests=%d\n", sid, b.requests)
			printSummary("rate_limit", runOffers(client, o, b, sid))
			return nil
		},
	}
	cmd.Flags().StringVar(&b.amount, "amount", "1.00", "offered amount")
	cmd.Flags().IntVar(&b.requests, "n", 100, "total offers")
	cmd.Flags().IntVar(&b.concurrency, "c", 100, "max concurrency")
	return cmd
}

// sharedSession 从状态文件读取会话 id，首次运行时生成。
func sharedSession(ctx context.Context, o *options) (string, error) {
	store := session.Prefixed(session.NewFileStore(o.statePath), o.device)
	return session.NewProvider(store).ID(ctx)
}

func openNegotiation(client *http.Client, baseURL, sku, sid string) error {
	return doPOST(client, fmt.Sprintf("%s/api/negotiations/%s", baseURL, sku), nil, map[string]string{
		middleware.HeaderSessionID: sid,
	})
}

func runOffers(client *http.Client, o *options, b *burst, sid string) []Result {
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	results := make([]Result, b.requests)

	for i := 0; i < b.requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = offerOnce(client, o.baseURL, sid, map[string]any{"sku": o.sku, "amount": b.amount})
		}(i)
	}
	wg.Wait()
	return results
}

func offerOnce(client *http.Client, baseURL, sid string, req any) Result {
	b, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/offers", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(middleware.HeaderSessionID, sid)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var out struct {
		Data struct {
			Result string `json:"result"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &out)
	return Result{Status: resp.StatusCode, Outcome: out.Data.Result, Body: string(body)}
}

func countOutcome(results []Result, outcome string) int {
	n := 0
	for _, r := range results {
		if r.Status == http.StatusOK && r.Outcome == outcome {
			n++
		}
	}
	return n
}

// printSummary 聚合输出状态码与议价结果分布。
func printSummary(name string, results []Result) {
	codes := map[int]int{}
	outcomes := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		codes[r.Status]++
		if r.Outcome != "" {
			outcomes[r.Outcome]++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 503} {
		if codes[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, codes[code])
		}
	}
	if len(outcomes) > 0 {
		fmt.Printf("[%s] outcome summary:\n", name)
		keys := make([]string, 0, len(outcomes))
		for k := range outcomes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s -> %d\n", k, outcomes[k])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return errors.Newf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
