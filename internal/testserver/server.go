// Package testserver is an in-process fake of the PsiCash ledger API, used
// by tests, examples and the CLI's local mode.
package testserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/dates"
)

// Product is one purchasable (class, distinguisher) pair.
type Product struct {
	Class         string
	Distinguisher string
	Price         int64
	Lifetime      time.Duration
}

type purchase struct {
	id            string
	class         string
	distinguisher string
	price         int64
	expiry        time.Time
	authorization string
}

type tracker struct {
	id        string
	balance   int64
	isAccount bool
	purchases []*purchase
}

type tokenClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Server is the fake ledger. All state is guarded by mu so concurrent
// purchases are decided one at a time, like the real service.
type Server struct {
	mu             sync.Mutex
	secret         []byte
	products       []Product
	trackers       map[string]*tracker
	revoked        map[string]struct{}
	forced         map[string][]int
	hits           map[string]int
	skew           time.Duration
	mutators       bool
	now            func() time.Time
	initialBalance int64

	engine *gin.Engine
	http   *httptest.Server
}

// Option configures a Server
type Option func(*Server)

// WithProducts replaces the default product list
func WithProducts(p ...Product) Option {
	return func(s *Server) { s.products = append([]Product(nil), p...) }
}

// WithClockSkew makes the server's Date header run ahead (or behind) of local time
func WithClockSkew(d time.Duration) Option {
	return func(s *Server) { s.skew = d }
}

// WithInitialBalance sets the balance of newly created trackers
func WithInitialBalance(b int64) Option {
	return func(s *Server) { s.initialBalance = b }
}

// WithoutMutators disables test header support, as on a production ledger
func WithoutMutators() Option {
	return func(s *Server) { s.mutators = false }
}

// DefaultProducts is the price list served when none is configured.
func DefaultProducts() []Product {
	return []Product{
		{Class: "speed-boost", Distinguisher: "1hr", Price: 100, Lifetime: time.Hour},
		{Class: "speed-boost", Distinguisher: "24hr", Price: 1000, Lifetime: 24 * time.Hour},
		{Class: "vpn-hours", Distinguisher: "10", Price: 250, Lifetime: 10 * time.Hour},
	}
}

// New creates an unstarted fake ledger.
func New(opts ...Option) *Server {
	s := &Server{
		secret:   []byte(uuid.NewString()),
		products: DefaultProducts(),
		trackers: map[string]*tracker{},
		revoked:  map[string]struct{}{},
		forced:   map[string][]int{},
		hits:     map[string]int{},
		mutators: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Start serves the ledger on a local httptest listener.
func Start(opts ...Option) *Server {
	s := New(opts...)
	s.http = httptest.NewServer(s.engine)
	return s
}

// Handler exposes the gin engine, e.g. for http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.engine }

// URL is the base URL of a started server.
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return s.http.URL
}

// Endpoint splits the started server's URL into scheme, host and port.
func (s *Server) Endpoint() (scheme, host string, port int) {
	u, err := url.Parse(s.URL())
	if err != nil {
		return "", "", 0
	}
	h, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		return u.Scheme, u.Host, 0
	}
	port, _ = strconv.Atoi(p)
	return u.Scheme, h, port
}

// Close stops a started server.
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

// ForceStatus queues statuses returned, in order, by the next requests to
// path (e.g. "/v1/refresh-state") before normal handling resumes.
func (s *Server) ForceStatus(path string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced[path] = append(s.forced[path], codes...)
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// RevokeTokens marks tokens as no longer valid (reported false by validation).
func (s *Server) RevokeTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.revoked[t] = struct{}{}
	}
}

// SetPrice changes the price of an existing product.
func (s *Server) SetPrice(class, distinguisher string, price int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].Class == class && s.products[i].Distinguisher == distinguisher {
			s.products[i].Price = price
			return true
		}
	}
	return false
}

// Balance returns the balance of the tracker owning token.
func (s *Server) Balance(token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, err := s.lookup(token)
	if err != nil {
		return 0, err
	}
	return tr.balance, nil
}

// Credit adds amount to the tracker owning token.
func (s *Server) Credit(token string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, err := s.lookup(token)
	if err != nil {
		return err
	}
	tr.balance += amount
	return nil
}

// SetAccount flags the tracker owning token as an account.
func (s *Server) SetAccount(token string, isAccount bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, _, err := s.lookup(token)
	if err != nil {
		return err
	}
	tr.isAccount = isAccount
	return nil
}

func (s *Server) serverNow() time.Time {
	return s.now().Add(s.skew)
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.dateMiddleware(), s.faultMiddleware())

	v1 := engine.Group("/" + constants.APIServerVersion)
	v1.POST(constants.TrackerPath, s.handleTracker)
	v1.GET(constants.ValidateTokensPath, s.handleValidateTokens)
	v1.GET(constants.RefreshStatePath, s.handleRefreshState)
	v1.POST(constants.TransactionPath, s.handleTransaction)
	v1.GET(constants.TestPath, s.handleTest)
	return engine
}

func (s *Server) dateMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		now := s.serverNow()
		s.mu.Unlock()
		c.Header(constants.DateHeader, now.UTC().Format(http.TimeFormat))
		c.Next()
	}
}

// faultMiddleware applies forced statuses and the "Response:code=NNN" test
// mutator.
func (s *Server) faultMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		s.mu.Lock()
		s.hits[path]++
		var code int
		if q := s.forced[path]; len(q) > 0 {
			code = q[0]
			s.forced[path] = q[1:]
		}
		mutatorsOn := s.mutators
		s.mu.Unlock()

		if code == 0 && mutatorsOn {
			code = parseResponseMutator(c.GetHeader(constants.TestHeader))
		}
		if code != 0 {
			common.GetLogger().WithComponent("testserver").Debug("forcing response", "path", path, "status", code)
			c.AbortWithStatus(code)
			return
		}
		c.Next()
	}
}

func parseResponseMutator(m string) int {
	const prefix = "Response:code="
	if !strings.HasPrefix(m, prefix) {
		return 0
	}
	code, err := strconv.Atoi(strings.TrimPrefix(m, prefix))
	if err != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}

func (s *Server) mint(trackerID, typ string) (string, error) {
	claims := tokenClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  trackerID,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

var errMalformedToken = errors.New("malformed token")

// lookup resolves a token to its tracker. Caller holds mu.
func (s *Server) lookup(token string) (*tracker, string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errMalformedToken, err)
	}
	tr, ok := s.trackers[claims.Subject]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown tracker", errMalformedToken)
	}
	return tr, claims.Type, nil
}

// authorize finds the tracker for the first valid token of type typ.
// Caller holds mu.
func (s *Server) authorize(c *gin.Context, typ string) (*tracker, bool) {
	for _, tok := range splitTokens(c.GetHeader(constants.AuthHeader)) {
		if _, revoked := s.revoked[tok]; revoked {
			continue
		}
		tr, t, err := s.lookup(tok)
		if err == nil && t == typ {
			return tr, true
		}
	}
	return nil, false
}

func splitTokens(h string) []string {
	var out []string
	for _, t := range strings.Split(h, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) handleTracker(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := &tracker{id: uuid.NewString(), balance: s.initialBalance}
	tokens := gin.H{}
	for _, typ := range []string{"earner", "indicator", "spender"} {
		tok, err := s.mint(tr.id, typ)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		tokens[typ] = tok
	}
	s.trackers[tr.id] = tr
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) handleValidateTokens(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := splitTokens(c.GetHeader(constants.AuthHeader))
	if len(tokens) == 0 {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	valid := gin.H{}
	isAccount := false
	for _, tok := range tokens {
		tr, _, err := s.lookup(tok)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		_, revoked := s.revoked[tok]
		valid[tok] = !revoked
		isAccount = isAccount || tr.isAccount
	}
	c.JSON(http.StatusOK, gin.H{"TokensValid": valid, "IsAccount": isAccount})
}

func (s *Server) handleRefreshState(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.authorize(c, "indicator")
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	classes := map[string]struct{}{}
	for _, cl := range c.QueryArray(constants.ClassParam) {
		classes[cl] = struct{}{}
	}
	prices := []gin.H{}
	for _, p := range s.products {
		if _, want := classes[p.Class]; !want {
			continue
		}
		prices = append(prices, gin.H{"Class": p.Class, "Distinguisher": p.Distinguisher, "Price": p.Price})
	}
	c.JSON(http.StatusOK, gin.H{"Balance": tr.balance, "PurchasePrices": prices})
}

func (s *Server) handleTransaction(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	class := c.Query(constants.ClassParam)
	distinguisher := c.Query(constants.DistinguisherParam)

	if class == constants.RewardClass && distinguisher == constants.RewardDistinguisher && s.mutators {
		tr, ok := s.authorize(c, "earner")
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		tr.balance += constants.RewardAmount
		c.JSON(http.StatusOK, gin.H{
			"TransactionID":     uuid.NewString(),
			"TransactionAmount": constants.RewardAmount,
			"Balance":           tr.balance,
		})
		return
	}

	tr, ok := s.authorize(c, "spender")
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	var product *Product
	for i := range s.products {
		if s.products[i].Class == class && s.products[i].Distinguisher == distinguisher {
			product = &s.products[i]
			break
		}
	}
	if product == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	now := s.serverNow()
	for _, p := range tr.purchases {
		if p.class == class && p.distinguisher == distinguisher && p.expiry.After(now) {
			c.JSON(http.StatusConflict, gin.H{
				"TransactionID":     p.id,
				"TransactionAmount": -p.price,
				"Balance":           tr.balance,
				"Expiry":            dates.FormatISO8601(p.expiry),
			})
			return
		}
	}

	expected, err := strconv.ParseInt(c.Query(constants.ExpectedAmountParam), 10, 64)
	if err != nil || expected != -product.Price {
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"TransactionAmount": -product.Price,
			"Balance":           tr.balance,
		})
		return
	}
	if tr.balance < product.Price {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"TransactionAmount": -product.Price,
			"Balance":           tr.balance,
		})
		return
	}

	p := &purchase{
		id:            uuid.NewString(),
		class:         class,
		distinguisher: distinguisher,
		price:         product.Price,
		expiry:        now.Add(product.Lifetime),
	}
	auth, err := s.mint(tr.id, "authorization:"+p.id)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	p.authorization = auth
	tr.balance -= product.Price
	tr.purchases = append(tr.purchases, p)

	c.JSON(http.StatusOK, gin.H{
		"TransactionID":     p.id,
		"TransactionAmount": -p.price,
		"Balance":           tr.balance,
		"Expiry":            dates.FormatISO8601(p.expiry),
		"Authorization":     p.authorization,
	})
}

func (s *Server) handleTest(c *gin.Context) {
	s.mu.Lock()
	enabled := s.mutators
	s.mu.Unlock()
	if enabled && c.GetHeader(constants.TestHeader) == "CheckEnabled" {
		c.Status(http.StatusOK)
		return
	}
	c.AbortWithStatus(http.StatusNotFound)
}
