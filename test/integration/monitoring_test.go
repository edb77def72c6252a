//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"netwarden/internal/config"
	"netwarden/internal/detect"
	"netwarden/internal/domain"
	"netwarden/internal/infra"
	"netwarden/internal/server"
	"netwarden/internal/usecase"
)

var _ = Describe("Monitoring Server", func() {
	var (
		tmpDir string
		store  *infra.Store
		api    *httptest.Server
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "netwarden-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewStore(tmpDir, nil)
		Expect(err).NotTo(HaveOccurred())

		policies, err := infra.NewFilePolicyStore(filepath.Join(tmpDir, "policies.json"))
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		detector := detect.New(detect.DefaultConfig())
		ingestor := usecase.NewIngestor(store, store, policies, detector, logger)
		dispatcher := usecase.NewDispatcher(store, store, logger)
		alerts := usecase.NewAlerts(store, logger)
		stats := usecase.NewStats(store)

		srv := server.New(server.Config{Addr: ":0"},
			ingestor, dispatcher, alerts, policies, stats, logger)
		api = httptest.NewServer(srv.Router())
	})

	AfterEach(func() {
		api.Close()
		store.Close()
		os.RemoveAll(tmpDir)
	})

	postJSON := func(path string, payload any) *http.Response {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(api.URL+path, "application/json", bytes.NewReader(raw))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	getJSON := func(path string, out any) {
		resp, err := http.Get(api.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}

	Describe("Telemetry ingest", func() {
		Context("when a snapshot is clean", func() {
			It("should accept it without raising an alert", func() {
				resp := postJSON("/api/v1/telemetry", domain.Snapshot{
					Hostname:  "lab-01",
					Processes: []string{"chrome.exe"},
				})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body struct {
					ViolationDetected bool `json:"violation_detected"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.ViolationDetected).To(BeFalse())

				var alerts struct {
					Count int `json:"count"`
				}
				getJSON("/api/v1/alerts/active", &alerts)
				Expect(alerts.Count).To(BeZero())
			})
		})

		Context("when a snapshot runs a blocked application", func() {
			It("should raise an active alert with the finding", func() {
				resp := postJSON("/api/v1/telemetry", domain.Snapshot{
					Hostname:  "lab-01",
					Processes: []string{"utorrent.exe"},
				})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var alerts struct {
					Alerts []domain.Alert `json:"alerts"`
					Count  int            `json:"count"`
				}
				getJSON("/api/v1/alerts/active", &alerts)
				Expect(alerts.Count).To(Equal(1))
				Expect(alerts.Alerts[0].Reason).To(Equal("Blocked application detected: utorrent.exe"))
				Expect(alerts.Alerts[0].Severity).To(Equal(domain.SeverityHigh))
			})
		})

		Context("when a blocked policy domain is visited", func() {
			It("should flag the snapshot using the managed blocklist", func() {
				resp := postJSON("/api/v1/policy/domains/block", map[string]string{"domain": "banned.example"})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				resp = postJSON("/api/v1/telemetry", domain.Snapshot{
					Hostname: "lab-01",
					Destinations: []domain.Destination{
						{IP: "1.2.3.4", Port: 443, Domain: "banned.example"},
					},
				})
				defer resp.Body.Close()

				var body struct {
					ViolationDetected bool `json:"violation_detected"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.ViolationDetected).To(BeTrue())
			})
		})
	})

	Describe("Command distribution", func() {
		It("should deliver each directive exactly once", func() {
			resp := postJSON("/api/v1/commands", map[string]string{
				"endpoint": "lab-01",
				"action":   "BLOCK_DOMAIN",
				"resource": "game.com",
				"reason":   "exam week",
			})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var poll struct {
				Commands []domain.DeliveredDirective `json:"commands"`
				Count    int                         `json:"count"`
			}
			getJSON("/api/v1/commands?endpoint=lab-01", &poll)
			Expect(poll.Count).To(Equal(1))
			Expect(poll.Commands[0].Resource).To(Equal("game.com"))

			getJSON("/api/v1/commands?endpoint=lab-01", &poll)
			Expect(poll.Count).To(BeZero())
		})

		It("should derive blocked state from the latest directive per resource", func() {
			for _, action := range []string{"BLOCK_DOMAIN", "UNBLOCK_DOMAIN", "BLOCK_DOMAIN"} {
				resp := postJSON("/api/v1/commands", map[string]string{
					"endpoint": "lab-01",
					"action":   action,
					"resource": "game.com",
				})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			}

			var blocked struct {
				Blocked []string `json:"blocked"`
			}
			getJSON("/api/v1/commands/blocked?endpoint=lab-01", &blocked)
			Expect(blocked.Blocked).To(Equal([]string{"game.com"}))

			// Draining does not change the projection.
			var poll struct{ Count int }
			getJSON("/api/v1/commands?endpoint=lab-01", &poll)
			getJSON("/api/v1/commands/blocked?endpoint=lab-01", &blocked)
			Expect(blocked.Blocked).To(Equal([]string{"game.com"}))
		})

		It("should broadcast only to recently active endpoints", func() {
			resp := postJSON("/api/v1/telemetry", domain.Snapshot{Hostname: "lab-01"})
			resp.Body.Close()
			resp = postJSON("/api/v1/telemetry", domain.Snapshot{Hostname: "lab-02"})
			resp.Body.Close()

			resp = postJSON("/api/v1/commands/broadcast", map[string]any{
				"action":              "PING",
				"active_within_hours": 1,
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Targeted []string `json:"targeted"`
				Created  int      `json:"created"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Created).To(Equal(2))
			Expect(result.Targeted).To(ConsistOf("lab-01", "lab-02"))
		})
	})

	Describe("Alert lifecycle", func() {
		It("should resolve an alert exactly once", func() {
			resp := postJSON("/api/v1/telemetry", domain.Snapshot{
				Hostname:  "lab-01",
				Processes: []string{"nmap"},
			})
			resp.Body.Close()

			var alerts struct {
				Alerts []domain.Alert `json:"alerts"`
			}
			getJSON("/api/v1/alerts/active", &alerts)
			Expect(alerts.Alerts).To(HaveLen(1))

			resolve := fmt.Sprintf("/api/v1/alerts/%d/resolve", alerts.Alerts[0].ID)
			resp = postJSON(resolve, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = postJSON(resolve, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Weekly stats", func() {
		It("should aggregate bandwidth across endpoints", func() {
			resp := postJSON("/api/v1/telemetry", domain.Snapshot{
				Hostname: "lab-01", BytesSent: 1000, BytesRecv: 1000,
			})
			resp.Body.Close()
			resp = postJSON("/api/v1/telemetry", domain.Snapshot{
				Hostname: "lab-02", BytesSent: 5000, BytesRecv: 5000,
			})
			resp.Body.Close()

			var stats usecase.WeeklyStats
			getJSON("/api/v1/stats/weekly", &stats)
			Expect(stats.TotalBandwidth).To(Equal(uint64(12000)))
			Expect(stats.ActiveEndpoints).To(Equal(2))
			Expect(stats.TopConsumers[0].Hostname).To(Equal("lab-02"))
		})
	})

	Describe("Configuration", func() {
		It("should load detector thresholds from a config file", func() {
			cfgPath := filepath.Join(tmpDir, "server.yaml")
			Expect(os.WriteFile(cfgPath, []byte(
				"addr: ':9090'\ndetector:\n  bandwidth_limit_mb: 100\n"), 0o600)).To(Succeed())

			cfg, err := config.LoadServer(cfgPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Addr).To(Equal(":9090"))
			Expect(cfg.Detector.BandwidthLimitMB).To(Equal(100.0))
			// Unset values keep their defaults.
			Expect(cfg.Detector.MaxConnections).To(Equal(100))
		})
	})
})
