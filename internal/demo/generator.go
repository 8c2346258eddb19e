// Package demo generates a small deterministic sales dataset so a fresh
// install has something to ask questions about.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Customer struct {
	CustomerID int64  `parquet:"customer_id"`
	Name       string `parquet:"name"`
	Country    string `parquet:"country"`
	Segment    string `parquet:"segment"`
	SignupDate string `parquet:"signup_date"`
}

type Order struct {
	OrderID    int64   `parquet:"order_id"`
	CustomerID int64   `parquet:"customer_id"`
	OrderDate  string  `parquet:"order_date"`
	Status     string  `parquet:"status"`
	Channel    string  `parquet:"channel"`
	Amount     float64 `parquet:"amount"`
	Currency   string  `parquet:"currency"`
}

type Dataset struct {
	Customers []Customer
	Orders    []Order
}

type Generator struct {
	rnd   *rand.Rand
	start time.Time
}

// NewGenerator returns a generator whose output depends only on seed. Dates
// fall in the year before start.
func NewGenerator(seed int64, start time.Time) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), start: start.UTC()}
}

func (g *Generator) Generate(customers, orders int) Dataset {
	out := Dataset{
		Customers: make([]Customer, 0, customers),
		Orders:    make([]Order, 0, orders),
	}
	for i := 1; i <= customers; i++ {
		out.Customers = append(out.Customers, Customer{
			CustomerID: int64(i),
			Name:       fmt.Sprintf("%s %s", pickOne(g.rnd, firstNames), pickOne(g.rnd, lastNames)),
			Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
			Segment:    g.pickSegment(),
			SignupDate: g.dayBefore(730),
		})
	}
	if customers == 0 {
		return out
	}
	for i := 1; i <= orders; i++ {
		status := g.pickStatus()
		out.Orders = append(out.Orders, Order{
			OrderID:    int64(i),
			CustomerID: int64(g.rnd.Intn(customers) + 1),
			OrderDate:  g.dayBefore(365),
			Status:     status,
			Channel:    pickOne(g.rnd, []string{"web", "mobile", "store"}),
			Amount:     g.pickAmount(status),
			Currency:   "USD",
		})
	}
	return out
}

func (g *Generator) pickSegment() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 60:
		return "consumer"
	case p < 90:
		return "small_business"
	default:
		return "enterprise"
	}
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 80:
		return "shipped"
	case p < 90:
		return "pending"
	case p < 96:
		return "returned"
	default:
		return "cancelled"
	}
}

func (g *Generator) pickAmount(status string) float64 {
	if status == "cancelled" {
		return 0
	}
	return round2(5 + g.rnd.Float64()*495)
}

func (g *Generator) dayBefore(days int) string {
	return g.start.AddDate(0, 0, -g.rnd.Intn(days)-1).Format(time.DateOnly)
}

var (
	firstNames = []string{"Ada", "Grace", "Linus", "Margaret", "Ken", "Barbara", "Dennis", "Frances"}
	lastNames  = []string{"Lovelace", "Hopper", "Torvalds", "Hamilton", "Thompson", "Liskov", "Ritchie", "Allen"}
)

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
