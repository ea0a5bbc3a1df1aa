package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	var (
		target   string
		asJSON   bool
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post sample station readings to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sim := &simulator{
				target: strings.TrimSuffix(target, "/"),
				client: &http.Client{Timeout: 10 * time.Second},
				rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
			}

			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-time.After(interval):
					case <-ctx.Done():
						return ctx.Err()
					}
				}

				now := time.Now().UTC()
				var status int
				var body string
				var err error
				if asJSON {
					status, body, err = sim.postJSON(ctx, now)
				} else {
					status, body, err = sim.postForm(ctx, now)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d/%d %d %s\n", i+1, count, status, strings.TrimSpace(body))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "http://localhost:5000", "server base URL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "post canonical JSON to /api/weather instead of the station form")
	cmd.Flags().IntVar(&count, "count", 10, "number of readings to post")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "pause between readings")
	return cmd
}

type simulator struct {
	target string
	client *http.Client
	rng    *rand.Rand
}

func (s *simulator) jitter(base, spread float64) float64 {
	return base + (s.rng.Float64()*2-1)*spread
}

func (s *simulator) formValues(at time.Time) url.Values {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	return url.Values{
		"dateutc":        {at.Format(time.DateTime)},
		"windspeedmph":   {f(s.jitter(6, 4))},
		"winddir":        {strconv.Itoa(s.rng.IntN(360))},
		"rainratein":     {f(0)},
		"tempinf":        {f(s.jitter(75, 2))},
		"tempf":          {f(s.jitter(86, 6))},
		"humidityin":     {strconv.Itoa(45 + s.rng.IntN(10))},
		"humidity":       {strconv.Itoa(60 + s.rng.IntN(30))},
		"uv":             {strconv.Itoa(s.rng.IntN(11))},
		"windgustmph":    {f(s.jitter(10, 5))},
		"baromrelin":     {f(s.jitter(29.8, 0.1))},
		"baromabsin":     {f(s.jitter(29.7, 0.1))},
		"solarradiation": {f(s.jitter(400, 300))},
		"dailyrainin":    {f(0.1)},
		"raintodayin":    {f(0.1)},
		"totalrainin":    {f(12.4)},
		"weeklyrainin":   {f(0.8)},
		"monthlyrainin":  {f(3.2)},
		"yearlyrainin":   {f(12.4)},
		"maxdailygust":   {f(s.jitter(15, 3))},
		"wh65batt":       {f(s.jitter(1.6, 0.05))},
	}
}

func (s *simulator) postForm(ctx context.Context, at time.Time) (int, string, error) {
	body := strings.NewReader(s.formValues(at).Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target+"/post", body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *simulator) postJSON(ctx context.Context, at time.Time) (int, string, error) {
	doc := map[string]any{
		"datetime":                   at.Format(time.DateTime),
		"windspeed_kmh":              s.jitter(10, 6),
		"wind_direction":             s.rng.IntN(360),
		"rain_rate_in":               0,
		"temp_in_c":                  s.jitter(24, 1),
		"temp_out_c":                 s.jitter(30, 3),
		"humidity_in":                45 + s.rng.IntN(10),
		"humidity_out":               60 + s.rng.IntN(30),
		"uv_index":                   s.rng.IntN(11),
		"wind_gust_kmh":              s.jitter(16, 8),
		"barometric_pressure_rel_in": s.jitter(29.8, 0.1),
		"barometric_pressure_abs_in": s.jitter(29.7, 0.1),
		"solar_radiation_wm2":        s.jitter(400, 300),
		"daily_rain_in":              0.1,
		"rain_today_in":              0.1,
		"total_rain_in":              12.4,
		"weekly_rain_in":             0.8,
		"monthly_rain_in":            3.2,
		"yearly_rain_in":             12.4,
		"max_daily_gust":             s.jitter(24, 5),
		"wh65_batt":                  s.jitter(1.6, 0.05),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target+"/api/weather", bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *simulator) do(req *http.Request) (int, string, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to post reading: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}
