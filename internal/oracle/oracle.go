// Package oracle fetches the randomness accounts that real-mode commitments read their
// seed from.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"raffle/internal/logger"
	"raffle/internal/raffle"
)

const retryDelay = 500 * time.Millisecond

var ErrAccountNotFound = errors.New("oracle: account not found")

// Source returns the current data of a randomness account.
type Source interface {
	Fetch(ctx context.Context, address ton.AccountID) (*raffle.OracleAccount, error)
}

type Func[T any] func() (T, error)

// rateLimitRetry repeats fn while tonapi answers 429, until ctx ends.
func rateLimitRetry[T any](ctx context.Context, fn Func[T]) (T, error) {
	for {
		result, err := fn()
		if err != nil {
			var e *tonapi.ErrorStatusCode
			if errors.As(err, &e) && e.StatusCode == http.StatusTooManyRequests {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(retryDelay):
					continue
				}
			}
		}

		return result, err
	}
}

// TonapiSource runs a get-method on the oracle contract and takes the cell it returns
// as the account data.
type TonapiSource struct {
	client *tonapi.Client
	method string
}

func NewTonapiSource(token, method string) (*TonapiSource, error) {
	logger.Debug("oracle initialization: tonapi client...")

	var (
		client *tonapi.Client
		err    error
	)
	if token != "" {
		client, err = tonapi.NewClient(tonapi.TonApiURL, tonapi.WithToken(token))
	} else {
		client, err = tonapi.NewClient(tonapi.TonApiURL)
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: tonapi client: %w", err)
	}

	logger.Debug("oracle initialization: tonapi client... done", zap.String("method", method))
	return &TonapiSource{
		client: client,
		method: method,
	}, nil
}

func (s *TonapiSource) Fetch(ctx context.Context, address ton.AccountID) (*raffle.OracleAccount, error) {
	logger.Debug("oracle: fetching account data...", zap.String("address", address.ToRaw()), zap.String("method", s.method))

	account, err := rateLimitRetry(ctx, func() (*tonapi.Account, error) {
		return s.client.GetAccount(ctx, tonapi.GetAccountParams{
			AccountID: address.ToRaw(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: account %s: %w", address.ToRaw(), err)
	}
	if status := string(account.GetStatus()); status != "active" {
		return nil, fmt.Errorf("%w: %s is %s", ErrAccountNotFound, address.ToRaw(), status)
	}

	result, err := rateLimitRetry(ctx, func() (*tonapi.MethodExecutionResult, error) {
		return s.client.ExecGetMethodForBlockchainAccount(ctx, tonapi.ExecGetMethodForBlockchainAccountParams{
			AccountID:  address.ToRaw(),
			MethodName: s.method,
			Args:       make([]string, 0),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: %s on %s: %w", s.method, address.ToRaw(), err)
	}

	stack := result.GetStack()
	if len(stack) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty stack", ErrAccountNotFound, s.method)
	}
	encoded, ok := stack[0].GetCell().Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s did not return a cell", ErrAccountNotFound, s.method)
	}

	data, err := DecodeCellData(encoded)
	if err != nil {
		return nil, err
	}

	logger.Debug("oracle: fetching account data... done", zap.String("address", address.ToRaw()), zap.Int("length", len(data)))
	return &raffle.OracleAccount{
		Address: address,
		Data:    data,
	}, nil
}

// DecodeCellData returns the whole bytes stored in the root cell of a hex BOC.
func DecodeCellData(encoded string) ([]byte, error) {
	cells, err := boc.DeserializeBocHex(encoded)
	if err != nil {
		return nil, fmt.Errorf("oracle: decode cell: %w", err)
	}
	if len(cells) == 0 {
		return nil, errors.New("oracle: decode cell: empty boc")
	}

	cell := cells[0]
	data, err := cell.ReadBytes(cell.BitsAvailableForRead() / 8)
	if err != nil {
		return nil, fmt.Errorf("oracle: decode cell: %w", err)
	}
	return data, nil
}

// StaticSource serves fixed account data, for tests and offline runs.
type StaticSource map[ton.AccountID][]byte

func (s StaticSource) Fetch(_ context.Context, address ton.AccountID) (*raffle.OracleAccount, error) {
	data, ok := s[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address.ToRaw())
	}
	return &raffle.OracleAccount{
		Address: address,
		Data:    append([]byte(nil), data...),
	}, nil
}
