//go:build !psicash_release

package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/request"
	"github.com/loykin/psicash/internal/userinfo"
)

const (
	opCheckMutators = "check-mutators"
	opReward        = "reward"
)

// SetRequestMutators queues test mutators; each request attempt consumes
// one. Only test ledgers honour them.
func (c *Controller) SetRequestMutators(mutators []string) {
	if hm, ok := c.currentMutator().(*request.HeaderMutators); ok {
		if n := hm.Pending(); n > 0 {
			common.GetLogger().WithComponent("transaction").Debug("replacing unconsumed request mutators", "pending", n)
		}
		hm.Set(mutators)
		return
	}
	c.setMutator(request.NewHeaderMutators(mutators))
}

// CheckMutatorSupport reports whether the ledger accepts test mutators.
func (c *Controller) CheckMutatorSupport(ctx context.Context) (bool, error) {
	ex, err := c.do(ctx, call{
		op:        opCheckMutators,
		method:    http.MethodGet,
		path:      constants.TestPath,
		headers:   map[string]string{constants.TestHeader: "CheckEnabled"},
		noMutator: true,
	})
	if err != nil {
		return false, err
	}
	return ex.resp.StatusCode == http.StatusOK, nil
}

// MakeRewardRequest credits one reward per count using the earner token.
// Test ledgers only.
func (c *Controller) MakeRewardRequest(ctx context.Context, count int) (Status, error) {
	earner, ok := c.user.AuthTokens()[userinfo.TokenEarner]
	if !ok {
		var clearErr error
		if err := c.dispatch(func() { clearErr = c.clearForInvalidTokens(context.WithoutCancel(ctx), opReward) }); err != nil {
			return Invalid, newError(opReward, Invalid, err)
		}
		return InvalidTokens, clearErr
	}
	for i := 0; i < count; i++ {
		ex, err := c.do(ctx, call{
			op:     opReward,
			method: http.MethodPost,
			path:   constants.TransactionPath,
			query: []request.QueryItem{
				{Name: constants.ClassParam, Value: constants.RewardClass},
				{Name: constants.DistinguisherParam, Value: constants.RewardDistinguisher},
			},
			tokens: []string{earner},
		})
		if err != nil {
			return StatusOf(err), err
		}

		var status Status
		var applyErr error
		switch ex.resp.StatusCode {
		case http.StatusOK:
			bal := gjson.GetBytes(ex.resp.Body, "Balance")
			if bal.Type != gjson.Number {
				return Invalid, newError(opReward, Invalid, errors.New("reward response lacks balance"))
			}
			balance := bal.Int()
			err = c.dispatch(func() {
				applyErr = c.user.Update(context.WithoutCancel(ctx), func(s *userinfo.State) {
					s.Balance = &balance
				})
			})
			status = Success
		case constants.StatusInvalidTokens:
			err = c.dispatch(func() { applyErr = c.clearForInvalidTokens(context.WithoutCancel(ctx), opReward) })
			status = InvalidTokens
		default:
			return Invalid, newError(opReward, Invalid, fmt.Errorf("unexpected status %d", ex.resp.StatusCode))
		}
		if err != nil {
			return Invalid, newError(opReward, Invalid, err)
		}
		if applyErr != nil {
			return Invalid, newError(opReward, Invalid, applyErr)
		}
		if status != Success {
			return status, nil
		}
	}
	return Success, nil
}

// ClearUserInfo wipes the local store.
func (c *Controller) ClearUserInfo(ctx context.Context) error {
	var err error
	if derr := c.dispatch(func() { err = c.user.Clear(context.WithoutCancel(ctx)) }); derr != nil {
		return derr
	}
	return err
}

// SetIsAccount overrides the account flag, keeping the current tokens.
func (c *Controller) SetIsAccount(ctx context.Context, isAccount bool) error {
	var err error
	if derr := c.dispatch(func() {
		err = c.user.SetAuthTokens(context.WithoutCancel(ctx), c.user.AuthTokens(), isAccount)
	}); derr != nil {
		return derr
	}
	return err
}

// AuthTokens returns the stored tokens.
func (c *Controller) AuthTokens() userinfo.AuthTokens {
	return c.user.AuthTokens()
}
