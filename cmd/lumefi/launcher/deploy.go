package launcher

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lume-fi/lumefi-contracts/boardroom"
	"github.com/lume-fi/lumefi-contracts/elastic"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/oracle"
	"github.com/lume-fi/lumefi-contracts/rebase"
	"github.com/lume-fi/lumefi-contracts/records"
	"github.com/lume-fi/lumefi-contracts/token"
	"github.com/lume-fi/lumefi-contracts/treasury"
)

// Deployment bundles the wired protocol components.
type Deployment struct {
	Rules   lume.Rules
	Records *records.Store

	Lume  *elastic.Ledger
	Share *token.Standard

	Oracle oracle.Source
	Policy *rebase.Policy
	Board  *boardroom.Boardroom
	Alloc  *treasury.Allocator
}

// nameAddr derives a stable address from a human-readable label.
func nameAddr(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}

// deploy builds a full in-memory deployment: records store, tokens, oracle,
// rebase policy, boardroom and allocator, wired together and with the minter
// roles handed to the allocator.
func deploy(rules lume.Rules, cfg Config) (*Deployment, error) {
	recs := records.NewStore(memorydb.New())

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	genesisSupply := new(big.Int).Mul(new(big.Int).SetUint64(cfg.Genesis.Supply), scale)

	lumeTok := elastic.New(nameAddr("lumefi:asset:lume"), "Lume Cash", "LUME", 18,
		genesisSupply, cfg.Genesis.Holder, DefaultOwner)
	shareTok := token.NewStandard(nameAddr("lumefi:asset:lshare"), "Lume Share", "LSHARE", 18,
		DefaultOwner)
	if err := shareTok.Mint(DefaultOwner, cfg.Genesis.Holder, genesisSupply); err != nil {
		return nil, fmt.Errorf("mint genesis shares: %w", err)
	}

	var src oracle.Source
	if cfg.Network.Preset == "fake" {
		src = oracle.NewFixed(lumeTok.Address(), lumeTok.Decimals(), rules.Peg.ParityPrice)
	} else {
		// TODO: feed the window from an AMM pair once the market integration
		// lands; until then it averages the parity placeholder.
		src = oracle.NewWindow(lumeTok.Address(), lumeTok.Decimals(), cfg.Oracle.Window,
			oracle.ParityFunc(), time.Now)
	}

	now := func() inter.Timestamp { return inter.ToTimestamp(time.Now()) }
	policy := rebase.NewPolicy(rules, lumeTok.Address(), lumeTok, src, recs,
		DefaultOwner, DefaultTreasury, now)

	var alloc *treasury.Allocator
	epochs := boardroom.EpochFunc(func() idx.Epoch { return alloc.CurrentEpoch() })
	board := boardroom.New(rules.Boardroom, boardroom.Config{
		Address:      DefaultBoardroom,
		Share:        shareTok,
		Reference:    lumeTok,
		Owner:        DefaultOwner,
		Operator:     DefaultDaemon,
		Treasury:     DefaultTreasury,
		FeeCollector: DefaultFeeCollector,
	}, epochs, recs)
	if err := board.AddRewardAsset(DefaultOwner, lumeTok, src, lumeTok); err != nil {
		return nil, fmt.Errorf("register reward asset: %w", err)
	}

	alloc = treasury.New(rules, treasury.Config{
		Address:     DefaultTreasury,
		Owner:       DefaultOwner,
		Operator:    DefaultDaemon,
		ReserveFund: cfg.Funds.Reserve,
		DevFund:     cfg.Funds.Dev,
	}, board, recs, now())

	if err := alloc.RegisterAsset(DefaultOwner, treasury.AssetConfig{
		Token:  lumeTok,
		Oracle: src,
		Policy: policy,
		Locked: []common.Address{DefaultTreasury, DefaultBoardroom, cfg.Funds.Reserve, cfg.Funds.Dev},
	}); err != nil {
		return nil, fmt.Errorf("register peg asset: %w", err)
	}

	// The allocator mints seigniorage and the caller salary.
	if err := lumeTok.TransferMinterRole(DefaultOwner, DefaultTreasury); err != nil {
		return nil, fmt.Errorf("hand over minter role: %w", err)
	}

	return &Deployment{
		Rules:   rules,
		Records: recs,
		Lume:    lumeTok,
		Share:   shareTok,
		Oracle:  src,
		Policy:  policy,
		Board:   board,
		Alloc:   alloc,
	}, nil
}
