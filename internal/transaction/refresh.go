package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/request"
	"github.com/loykin/psicash/internal/userinfo"
)

const (
	opNewTracker     = "new-tracker"
	opValidateTokens = "validate-tokens"
	opRefreshState   = "refresh-state"
	opRefresh        = "refresh"
)

// RefreshResult is the state after a refresh. Fields other than Status are
// populated from the store once the refresh has been applied.
type RefreshResult struct {
	Status          Status
	ServerTimeDiff  time.Duration
	ValidTokenTypes []userinfo.TokenType
	IsAccount       bool
	Balance         *int64
	PurchasePrices  []userinfo.PurchasePrice
}

// refreshPlan collects everything learned from the network before it is
// applied in one write.
type refreshPlan struct {
	tokens        userinfo.AuthTokens
	isAccount     bool
	balance       *int64
	prices        []userinfo.PurchasePrice
	last          *exchange
	invalidTokens bool
}

// RefreshState brings identity, balance and the price list for
// purchaseClasses up to date. Without stored tokens it first obtains new
// tracker tokens.
func (c *Controller) RefreshState(ctx context.Context, purchaseClasses []string) (*RefreshResult, error) {
	var res *RefreshResult
	var resErr error
	if err := c.refresh(ctx, purchaseClasses, func(r *RefreshResult, err error) {
		res, resErr = r, err
	}); err != nil {
		return &RefreshResult{Status: Invalid}, newError(opRefresh, Invalid, err)
	}
	return res, resErr
}

// RefreshStateAsync runs RefreshState in the background. done is called on
// the completion worker.
func (c *Controller) RefreshStateAsync(ctx context.Context, purchaseClasses []string, done func(*RefreshResult, error)) {
	c.goAsync(func() {
		if err := c.refresh(ctx, purchaseClasses, done); err != nil {
			done(&RefreshResult{Status: Invalid}, newError(opRefresh, Invalid, err))
		}
	})
}

func (c *Controller) refresh(ctx context.Context, purchaseClasses []string, done func(*RefreshResult, error)) error {
	plan, err := c.planRefresh(ctx, purchaseClasses)
	return c.dispatch(func() {
		done(c.applyRefresh(context.WithoutCancel(ctx), plan, err))
	})
}

// planRefresh performs the network phase. It never writes the store.
func (c *Controller) planRefresh(ctx context.Context, purchaseClasses []string) (*refreshPlan, error) {
	snap := c.user.Snapshot()
	plan := &refreshPlan{tokens: snap.Tokens, isAccount: snap.IsAccount}

	if len(plan.tokens) == 0 {
		if err := c.newTracker(ctx, plan); err != nil {
			return nil, err
		}
	} else {
		if err := c.validateTokens(ctx, plan); err != nil {
			return nil, err
		}
		if plan.invalidTokens {
			return plan, nil
		}
		if len(plan.tokens) == 0 && !plan.isAccount {
			// every tracker token expired; start over as a new tracker
			if err := c.newTracker(ctx, plan); err != nil {
				return nil, err
			}
		}
	}

	if _, ok := plan.tokens[userinfo.TokenIndicator]; ok {
		if err := c.fetchState(ctx, plan, purchaseClasses); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (c *Controller) newTracker(ctx context.Context, plan *refreshPlan) error {
	ex, err := c.do(ctx, call{op: opNewTracker, method: http.MethodPost, path: constants.TrackerPath})
	if err != nil {
		return err
	}
	if ex.resp.StatusCode != http.StatusOK {
		return newError(opNewTracker, Invalid, fmt.Errorf("unexpected status %d", ex.resp.StatusCode))
	}
	body := ex.resp.Body
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return newError(opNewTracker, Invalid, errors.New("malformed tracker response"))
	}

	tokens := userinfo.AuthTokens{}
	var parseErr error
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String || value.String() == "" {
			parseErr = fmt.Errorf("token %q is not a string", key.String())
			return false
		}
		tokens[userinfo.TokenType(key.String())] = value.String()
		return true
	})
	if parseErr != nil {
		return newError(opNewTracker, Invalid, parseErr)
	}
	if len(tokens) == 0 {
		return newError(opNewTracker, Invalid, errors.New("tracker response has no tokens"))
	}

	plan.tokens = tokens
	plan.isAccount = false
	plan.last = ex
	return nil
}

func (c *Controller) validateTokens(ctx context.Context, plan *refreshPlan) error {
	ex, err := c.do(ctx, call{
		op:     opValidateTokens,
		method: http.MethodGet,
		path:   constants.ValidateTokensPath,
		tokens: plan.tokens.Values(),
	})
	if err != nil {
		return err
	}
	switch ex.resp.StatusCode {
	case http.StatusOK:
	case constants.StatusInvalidTokens:
		plan.invalidTokens = true
		return nil
	default:
		return newError(opValidateTokens, Invalid, fmt.Errorf("unexpected status %d", ex.resp.StatusCode))
	}

	body := ex.resp.Body
	validity := gjson.GetBytes(body, "TokensValid")
	isAccount := gjson.GetBytes(body, "IsAccount")
	if !gjson.ValidBytes(body) || !validity.IsObject() || (isAccount.Type != gjson.True && isAccount.Type != gjson.False) {
		return newError(opValidateTokens, Invalid, errors.New("malformed validate-tokens response"))
	}

	valid := map[string]bool{}
	validity.ForEach(func(key, value gjson.Result) bool {
		valid[key.String()] = value.Bool()
		return true
	})
	kept := userinfo.AuthTokens{}
	for typ, tok := range plan.tokens {
		if valid[tok] {
			kept[typ] = tok
		}
	}
	plan.tokens = kept
	plan.isAccount = isAccount.Bool()
	plan.last = ex
	return nil
}

func (c *Controller) fetchState(ctx context.Context, plan *refreshPlan, purchaseClasses []string) error {
	query := make([]request.QueryItem, 0, len(purchaseClasses))
	for _, cl := range purchaseClasses {
		query = append(query, request.QueryItem{Name: constants.ClassParam, Value: cl})
	}
	ex, err := c.do(ctx, call{
		op:     opRefreshState,
		method: http.MethodGet,
		path:   constants.RefreshStatePath,
		query:  query,
		tokens: []string{plan.tokens[userinfo.TokenIndicator]},
	})
	if err != nil {
		return err
	}
	switch ex.resp.StatusCode {
	case http.StatusOK:
	case constants.StatusInvalidTokens:
		plan.invalidTokens = true
		return nil
	default:
		return newError(opRefreshState, Invalid, fmt.Errorf("unexpected status %d", ex.resp.StatusCode))
	}

	body := ex.resp.Body
	bal := gjson.GetBytes(body, "Balance")
	pp := gjson.GetBytes(body, "PurchasePrices")
	if !gjson.ValidBytes(body) || bal.Type != gjson.Number || !pp.IsArray() {
		return newError(opRefreshState, Invalid, errors.New("malformed refresh-state response"))
	}

	prices := make([]userinfo.PurchasePrice, 0, len(pp.Array()))
	for _, p := range pp.Array() {
		class, dist, price := p.Get("Class"), p.Get("Distinguisher"), p.Get("Price")
		if class.Type != gjson.String || dist.Type != gjson.String || price.Type != gjson.Number {
			return newError(opRefreshState, Invalid, fmt.Errorf("malformed purchase price %s", p.Raw))
		}
		prices = append(prices, userinfo.PurchasePrice{
			TransactionClass: class.String(),
			Distinguisher:    dist.String(),
			Price:            price.Int(),
		})
	}
	sort.SliceStable(prices, func(i, j int) bool {
		if prices[i].TransactionClass != prices[j].TransactionClass {
			return prices[i].TransactionClass < prices[j].TransactionClass
		}
		return prices[i].Distinguisher < prices[j].Distinguisher
	})

	balance := bal.Int()
	plan.balance = &balance
	plan.prices = prices
	plan.last = ex
	return nil
}

// applyRefresh is the refresh epilogue. Runs on the completion worker.
func (c *Controller) applyRefresh(ctx context.Context, plan *refreshPlan, netErr error) (*RefreshResult, error) {
	if netErr != nil {
		return &RefreshResult{Status: StatusOf(netErr)}, netErr
	}
	if plan.invalidTokens {
		if err := c.clearForInvalidTokens(ctx, opRefresh); err != nil {
			return &RefreshResult{Status: InvalidTokens}, err
		}
		return c.refreshResult(InvalidTokens), nil
	}

	err := c.user.Update(ctx, func(s *userinfo.State) {
		s.Tokens = plan.tokens
		s.IsAccount = plan.isAccount
		s.Balance = plan.balance
		s.PurchasePrices = plan.prices
		if plan.last != nil && plan.last.hasDate {
			s.ServerTimeDiff = plan.last.timeDiff
		}
	})
	if err != nil {
		return &RefreshResult{Status: Invalid}, newError(opRefresh, Invalid, err)
	}

	res := c.refreshResult(Success)
	common.GetLogger().WithComponent("transaction").WithOperation(opRefresh).Debug("state refreshed",
		"token_types", res.ValidTokenTypes, "is_account", res.IsAccount, "has_balance", res.Balance != nil)
	return res, nil
}

func (c *Controller) refreshResult(status Status) *RefreshResult {
	snap := c.user.Snapshot()
	return &RefreshResult{
		Status:          status,
		ServerTimeDiff:  snap.ServerTimeDiff,
		ValidTokenTypes: snap.Tokens.Types(),
		IsAccount:       snap.IsAccount,
		Balance:         snap.Balance,
		PurchasePrices:  snap.PurchasePrices,
	}
}
