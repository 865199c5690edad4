// Package clients holds thin wrappers around external SDK clients.
package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/internal/domain"
)

const dcaABI = `[
	{"type":"function","name":"getRegisteredBuyers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getUserDestinationTokens","stateMutability":"view","inputs":[{"name":"buyer","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getDCAConfig","stateMutability":"view","inputs":[{"name":"buyer","type":"address"},{"name":"destinationToken","type":"address"}],"outputs":[{"name":"sourceToken","type":"address"},{"name":"destinationToken","type":"address"},{"name":"amount_per_day","type":"uint256"},{"name":"days_left","type":"uint256"},{"name":"isNativeETH","type":"bool"},{"name":"buy_time","type":"uint256"}]},
	{"type":"function","name":"runDCA","stateMutability":"nonpayable","inputs":[{"name":"buyer","type":"address"},{"name":"destinationToken","type":"address"},{"name":"steps","type":"tuple[]","components":[{"name":"to","type":"address"},{"name":"data","type":"bytes"},{"name":"value","type":"uint256"}]}],"outputs":[]}
]`

// abiStep mirrors the runDCA step tuple for ABI encoding.
type abiStep struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// EthClient talks to the DCA contract: config reads, buyer enumeration and
// runDCA submission.
type EthClient struct {
	rpc      *ethclient.Client
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	logger   *zap.Logger
}

// NewEthClient dials the RPC endpoint and derives the submitting account
// from the operator private key.
func NewEthClient(ctx context.Context, rpcURL, contractAddr, privateKeyHex string, logger *zap.Logger) (*EthClient, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid operator private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial rpc %s", rpcURL)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch chain id")
	}

	parsed, err := abi.JSON(strings.NewReader(dcaABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse contract ABI")
	}

	return &EthClient{
		rpc:      rpc,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		key:      privateKey,
		from:     crypto.PubkeyToAddress(*pub),
		chainID:  chainID,
		logger:   logger,
	}, nil
}

// ContractAddress returns the DCA contract address.
func (c *EthClient) ContractAddress() common.Address { return c.contract }

// Close releases the underlying RPC connection.
func (c *EthClient) Close() { c.rpc.Close() }

func (c *EthClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack %s call", method)
	}

	res, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s call failed", method)
	}

	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}

	return out, nil
}

// RegisteredBuyers lists every buyer address registered on the contract.
func (c *EthClient) RegisteredBuyers(ctx context.Context) ([]common.Address, error) {
	out, err := c.call(ctx, "getRegisteredBuyers")
	if err != nil {
		return nil, err
	}

	buyers, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getRegisteredBuyers result type %T", out[0])
	}

	return buyers, nil
}

// DestinationTokens lists the destination tokens a buyer has sessions for.
func (c *EthClient) DestinationTokens(ctx context.Context, buyer common.Address) ([]common.Address, error) {
	out, err := c.call(ctx, "getUserDestinationTokens", buyer)
	if err != nil {
		return nil, err
	}

	tokens, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getUserDestinationTokens result type %T", out[0])
	}

	return tokens, nil
}

// DCAConfig reads the live on-chain session parameters for one buyer and
// destination token. A session with days_left == 0 or amount_per_day == 0 is
// simply inactive, not an error.
func (c *EthClient) DCAConfig(ctx context.Context, buyer, destinationToken common.Address) (domain.Session, error) {
	out, err := c.call(ctx, "getDCAConfig", buyer, destinationToken)
	if err != nil {
		return domain.Session{}, err
	}

	if len(out) != 6 {
		return domain.Session{}, fmt.Errorf("unexpected getDCAConfig result arity %d", len(out))
	}

	sourceToken, _ := out[0].(common.Address)
	destToken, _ := out[1].(common.Address)
	amountPerDay, _ := out[2].(*big.Int)
	daysLeft, _ := out[3].(*big.Int)
	isNative, _ := out[4].(bool)
	buyTime, _ := out[5].(*big.Int)

	if amountPerDay == nil || daysLeft == nil || buyTime == nil {
		return domain.Session{}, fmt.Errorf("malformed getDCAConfig result for %s", buyer.Hex())
	}

	return domain.Session{
		Buyer:            buyer,
		SourceToken:      sourceToken,
		DestinationToken: destToken,
		AmountPerDay:     amountPerDay,
		DaysLeft:         daysLeft.Int64(),
		NativeSource:     isNative,
		BuyTime:          int(buyTime.Int64()),
	}, nil
}

// RunDCA submits the router-produced steps to the contract's execution entry
// point and blocks until the transaction is mined. A revert or a
// confirmation failure is a hard error.
func (c *EthClient) RunDCA(ctx context.Context, buyer, destinationToken common.Address, steps []domain.Step) (common.Hash, error) {
	encoded := make([]abiStep, 0, len(steps))
	for _, s := range steps {
		value := s.Value
		if value == nil {
			value = new(big.Int)
		}
		encoded = append(encoded, abiStep{To: s.To, Data: s.Data, Value: value})
	}

	data, err := c.abi.Pack("runDCA", buyer, destinationToken, encoded)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to pack runDCA call")
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch nonce")
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch gas price")
	}

	gasLimit, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "gas estimation failed")
	}

	tx := types.NewTransaction(nonce, c.contract, new(big.Int), gasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign runDCA transaction")
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send runDCA transaction")
	}

	c.logger.Info("runDCA submitted, awaiting confirmation",
		zap.String("buyer", buyer.Hex()),
		zap.String("tx", signed.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.rpc, signed)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed waiting for runDCA confirmation")
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("runDCA reverted in tx %s", signed.Hash().Hex())
	}

	return signed.Hash(), nil
}
