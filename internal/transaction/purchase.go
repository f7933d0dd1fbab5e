package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/dates"
	"github.com/loykin/psicash/internal/request"
	"github.com/loykin/psicash/internal/userinfo"
)

const opPurchase = "expiring-purchase"

// PurchaseResult reports a purchase attempt. Price, Balance and Expiry are
// set whenever the ledger returned them, including for business rejections.
type PurchaseResult struct {
	Status         Status
	ServerTimeDiff time.Duration
	Price          *int64
	Balance        *int64
	Expiry         time.Time
	TransactionID  string
	Authorization  string
	// Purchase is the record appended to history, if any.
	Purchase *userinfo.Purchase
}

type purchaseOutcome struct {
	status        Status
	ex            *exchange
	price         *int64
	balance       *int64
	expiry        time.Time
	transactionID string
	authorization string
}

// NewExpiringPurchase buys (class, distinguisher) at expectedPrice. The
// ledger is the sole authority on price and balance; a stale expectedPrice
// yields TransactionAmountMismatch.
func (c *Controller) NewExpiringPurchase(ctx context.Context, class, distinguisher string, expectedPrice int64) (*PurchaseResult, error) {
	var res *PurchaseResult
	var resErr error
	if err := c.purchase(ctx, class, distinguisher, expectedPrice, func(r *PurchaseResult, err error) {
		res, resErr = r, err
	}); err != nil {
		return &PurchaseResult{Status: Invalid}, newError(opPurchase, Invalid, err)
	}
	return res, resErr
}

// NewExpiringPurchaseAsync runs NewExpiringPurchase in the background. done
// is called on the completion worker.
func (c *Controller) NewExpiringPurchaseAsync(ctx context.Context, class, distinguisher string, expectedPrice int64, done func(*PurchaseResult, error)) {
	c.goAsync(func() {
		if err := c.purchase(ctx, class, distinguisher, expectedPrice, done); err != nil {
			done(&PurchaseResult{Status: Invalid}, newError(opPurchase, Invalid, err))
		}
	})
}

func (c *Controller) purchase(ctx context.Context, class, distinguisher string, expectedPrice int64, done func(*PurchaseResult, error)) error {
	out, err := c.sendPurchase(ctx, class, distinguisher, expectedPrice)
	return c.dispatch(func() {
		done(c.applyPurchase(context.WithoutCancel(ctx), class, distinguisher, expectedPrice, out, err))
	})
}

// sendPurchase is the network phase; it never writes the store.
func (c *Controller) sendPurchase(ctx context.Context, class, distinguisher string, expectedPrice int64) (*purchaseOutcome, error) {
	tokens := c.user.AuthTokens()
	spender, ok := tokens[userinfo.TokenSpender]
	if !ok {
		// nothing to send; the epilogue still clears identity
		return &purchaseOutcome{status: InvalidTokens}, nil
	}
	auth := []string{spender}
	if ind, ok := tokens[userinfo.TokenIndicator]; ok {
		auth = append(auth, ind)
	}

	ex, err := c.do(ctx, call{
		op:     opPurchase,
		method: http.MethodPost,
		path:   constants.TransactionPath,
		query: []request.QueryItem{
			{Name: constants.ClassParam, Value: class},
			{Name: constants.DistinguisherParam, Value: distinguisher},
			{Name: constants.ExpectedAmountParam, Value: strconv.FormatInt(-expectedPrice, 10)},
		},
		tokens: auth,
	})
	if err != nil {
		return nil, err
	}
	return classifyPurchase(ex, expectedPrice)
}

// classifyPurchase maps a ledger response onto a status and validates the
// fields that status must carry.
func classifyPurchase(ex *exchange, expectedPrice int64) (*purchaseOutcome, error) {
	out := &purchaseOutcome{ex: ex}
	body := ex.resp.Body
	code := ex.resp.StatusCode

	switch code {
	case http.StatusOK:
		out.status = Success
	case constants.StatusExistingTransaction:
		out.status = ExistingTransaction
	case constants.StatusInsufficientBalance:
		out.status = InsufficientBalance
	case constants.StatusAmountMismatch:
		out.status = TransactionAmountMismatch
	case constants.StatusTransactionNotFound:
		out.status = TransactionTypeNotFound
		return out, nil
	case constants.StatusInvalidTokens:
		out.status = InvalidTokens
		return out, nil
	default:
		return nil, newError(opPurchase, Invalid, fmt.Errorf("unexpected status %d", code))
	}

	if !gjson.ValidBytes(body) {
		return nil, newError(opPurchase, Invalid, fmt.Errorf("malformed %s response", out.status))
	}
	// Amount and balance are only reported when the indicator token was sent.
	if amount := gjson.GetBytes(body, "TransactionAmount"); amount.Type == gjson.Number {
		price := -amount.Int()
		out.price = &price
	}
	if balance := gjson.GetBytes(body, "Balance"); balance.Type == gjson.Number {
		bal := balance.Int()
		out.balance = &bal
	}

	if out.status != Success && out.status != ExistingTransaction {
		return out, nil
	}

	out.transactionID = gjson.GetBytes(body, "TransactionID").String()
	out.authorization = gjson.GetBytes(body, "Authorization").String()
	if expiry := gjson.GetBytes(body, "Expiry"); expiry.Exists() {
		if expiry.Type != gjson.String {
			return nil, newError(opPurchase, Invalid, fmt.Errorf("%s response has malformed expiry", out.status))
		}
		t, err := dates.ParseISO8601(expiry.String())
		if err != nil {
			return nil, newError(opPurchase, Invalid, err)
		}
		out.expiry = t
	}

	if out.status == Success {
		if out.transactionID == "" {
			return nil, newError(opPurchase, Invalid, errors.New("success response lacks transaction ID"))
		}
		if out.expiry.IsZero() {
			return nil, newError(opPurchase, Invalid, errors.New("success response lacks expiry"))
		}
		if out.price != nil && *out.price != expectedPrice {
			return nil, newError(opPurchase, Invalid, fmt.Errorf("charged %d, expected %d", *out.price, expectedPrice))
		}
	}
	return out, nil
}

// applyPurchase is the purchase epilogue. Runs on the completion worker.
func (c *Controller) applyPurchase(ctx context.Context, class, distinguisher string, expectedPrice int64, out *purchaseOutcome, netErr error) (*PurchaseResult, error) {
	if netErr != nil {
		return &PurchaseResult{Status: StatusOf(netErr)}, netErr
	}
	logger := common.GetLogger().WithComponent("transaction").WithOperation(opPurchase)

	res := &PurchaseResult{
		Status:         out.status,
		ServerTimeDiff: c.user.ServerTimeDiff(),
		Price:          out.price,
		Balance:        out.balance,
		Expiry:         out.expiry,
		TransactionID:  out.transactionID,
		Authorization:  out.authorization,
	}

	switch out.status {
	case InvalidTokens:
		if err := c.clearForInvalidTokens(ctx, opPurchase); err != nil {
			return res, err
		}
		return res, nil

	case Success, ExistingTransaction:
		var appended *userinfo.Purchase
		err := c.user.Update(ctx, func(s *userinfo.State) {
			appended = nil
			if out.balance != nil {
				s.Balance = out.balance
			}
			if out.ex.hasDate {
				s.ServerTimeDiff = out.ex.timeDiff
			}
			if out.transactionID == "" || out.expiry.IsZero() || s.HasPurchase(out.transactionID) {
				return
			}
			p := userinfo.Purchase{
				TransactionClass: class,
				Distinguisher:    distinguisher,
				TransactionID:    out.transactionID,
				Expiry:           out.expiry,
				Authorization:    out.authorization,
			}
			s.Purchases = append(s.Purchases, p)
			if out.status == Success {
				s.LastTransactionID = p.TransactionID
			}
			appended = &p
		})
		if err != nil {
			return &PurchaseResult{Status: Invalid}, newError(opPurchase, Invalid, err)
		}
		res.Purchase = appended
		res.ServerTimeDiff = c.user.ServerTimeDiff()
		logger.Info("purchase recorded", "status", out.status, "class", class, "distinguisher", distinguisher,
			"price", expectedPrice, "transaction_id", out.transactionID)
		return res, nil

	default:
		logger.Info("purchase rejected", "status", out.status, "class", class, "distinguisher", distinguisher)
		return res, nil
	}
}
