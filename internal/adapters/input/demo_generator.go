package input

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// DemoConfig controls the synthetic access-log generator. The same config and
// seed always produce the same lines.
type DemoConfig struct {
	Seed           int64
	Start          time.Time
	Step           time.Duration
	AttackPercent  int
	MalformedEvery int
	BurstIP        string
	BurstSize      int
}

func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		Seed:          1,
		Start:         time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
		Step:          2 * time.Second,
		AttackPercent: 15,
		BurstIP:       "45.33.32.156",
		BurstSize:     20,
	}
}

type DemoGenerator struct {
	cfg DemoConfig
	rng *rand.Rand
	now time.Time
	n   int

	normalIPs   []netip.Addr
	attackerIPs []netip.Addr
	normalPaths []string
	attackPaths []string
	normalUAs   []string
	attackerUAs []string
}

func NewDemoGenerator(cfg DemoConfig) *DemoGenerator {
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.Start.IsZero() {
		cfg.Start = DefaultDemoConfig().Start
	}
	if cfg.AttackPercent < 0 {
		cfg.AttackPercent = 0
	}

	return &DemoGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		now: cfg.Start.UTC(),
		normalIPs: generateIPPool(200, []string{
			"192.168.", "10.0.", "10.1.", "172.16.", "172.17.",
		}),
		attackerIPs: generateIPPool(20, []string{
			"45.33.", "185.220.", "89.234.", "91.121.",
		}),
		normalPaths: []string{
			"/", "/index.html", "/about", "/contact", "/products", "/services",
			"/css/main.css", "/js/app.js", "/images/logo.png",
			"/register", "/dashboard", "/profile", "/settings",
			"/cart", "/checkout", "/search?q=shoes", "/blog",
		},
		attackPaths: []string{
			"/search?q=' OR 1=1--",
			"/products?id=1 UNION SELECT * FROM users--",
			"/api/users?filter=1; DROP TABLE users;--",
			"/login?user=admin'--",
			"/page?id=1 AND SLEEP(5)--",
			"/.git/config",
			"/.env",
			"/wp-admin/", "/wp-admin/setup.php", "/wp-admin/install.php",
			"/phpmyadmin/",
			"/admin/", "/backup/db.sql",
			"/debug/vars", "/console",
		},
		normalUAs: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X) Safari/17.0",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/121.0",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Mobile Safari",
			"Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile",
		},
		attackerUAs: []string{
			"sqlmap/1.7.11#stable",
			"Nikto/2.1.6",
			"Nmap Scripting Engine",
			"python-requests/2.31.0",
			"curl/8.4.0",
			"Wget/1.21",
		},
	}
}

// Lines generates n lines. A burst from BurstIP is placed after the first
// quarter of the output when BurstSize is positive.
func (g *DemoGenerator) Lines(n int) []string {
	lines := make([]string, 0, n)
	burstAt := -1
	if g.cfg.BurstSize > 0 && g.cfg.BurstIP != "" {
		burstAt = n / 4
	}

	for len(lines) < n {
		if len(lines) == burstAt {
			for i := 0; i < g.cfg.BurstSize && len(lines) < n; i++ {
				lines = append(lines, g.burstLine())
			}
			continue
		}
		lines = append(lines, g.next())
	}
	return lines
}

// WriteTo writes n generated lines to w, one per line.
func (g *DemoGenerator) WriteTo(w io.Writer, n int) error {
	bw := bufio.NewWriter(w)
	for _, line := range g.Lines(n) {
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("write demo line: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("write demo line: %w", err)
		}
	}
	return bw.Flush()
}

func (g *DemoGenerator) Generated() int {
	return g.n
}

func (g *DemoGenerator) next() string {
	g.n++
	g.now = g.now.Add(g.cfg.Step)

	if g.cfg.MalformedEvery > 0 && g.n%g.cfg.MalformedEvery == 0 {
		return "malformed line " + strconv.Itoa(g.n)
	}

	var (
		ip, path, ua, method string
		status, bytes        int
	)

	if g.rng.Intn(100) < g.cfg.AttackPercent {
		ip = g.attackerIPs[g.rng.Intn(len(g.attackerIPs))].String()
		path = g.attackPaths[g.rng.Intn(len(g.attackPaths))]
		ua = g.attackerUAs[g.rng.Intn(len(g.attackerUAs))]
		method = "GET"
		if g.rng.Intn(4) == 0 {
			method = "POST"
		}
		statuses := []int{200, 400, 401, 403, 404, 404, 500}
		status = statuses[g.rng.Intn(len(statuses))]
		bytes = g.rng.Intn(500) + 50
	} else {
		ip = g.normalIPs[g.rng.Intn(len(g.normalIPs))].String()
		path = g.normalPaths[g.rng.Intn(len(g.normalPaths))]
		ua = g.normalUAs[g.rng.Intn(len(g.normalUAs))]
		methods := []string{"GET", "GET", "GET", "POST", "PUT", "DELETE"}
		method = methods[g.rng.Intn(len(methods))]
		statuses := []int{200, 200, 200, 201, 301, 304}
		status = statuses[g.rng.Intn(len(statuses))]
		bytes = g.rng.Intn(10000) + 200
	}

	return formatAccessLine(ip, g.now, method, path, status, bytes, ua)
}

func (g *DemoGenerator) burstLine() string {
	g.n++
	g.now = g.now.Add(time.Second)
	return formatAccessLine(g.cfg.BurstIP, g.now, "GET", "/wp-admin/", 404, 162, "Nikto/2.1.6")
}

func formatAccessLine(ip string, ts time.Time, method, path string, status, bytes int, ua string) string {
	var b strings.Builder
	b.Grow(200)
	b.WriteString(ip)
	b.WriteString(" - - [")
	b.WriteString(ts.Format("02/Jan/2006:15:04:05 -0700"))
	b.WriteString("] \"")
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\" ")
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(bytes))
	b.WriteString(" \"-\" \"")
	b.WriteString(ua)
	b.WriteByte('"')
	return b.String()
}

func generateIPPool(count int, prefixes []string) []netip.Addr {
	ips := make([]netip.Addr, 0, count)
	perPrefix := count / len(prefixes)
	remainder := count % len(prefixes)

	for i, prefix := range prefixes {
		n := perPrefix
		if i < remainder {
			n++
		}
		for j := 0; j < n; j++ {
			third := (j / 256) % 256
			fourth := j % 256
			if fourth == 0 {
				fourth = 1
			}
			ipStr := prefix + strconv.Itoa(third) + "." + strconv.Itoa(fourth)
			if addr, err := netip.ParseAddr(ipStr); err == nil {
				ips = append(ips, addr)
			}
		}
	}

	return ips
}
