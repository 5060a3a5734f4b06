package order

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/cascade"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/ledger/mock"
	"github.com/LeJamon/goDarkpool/internal/proof"
	"github.com/LeJamon/goDarkpool/internal/provider"
	"github.com/LeJamon/goDarkpool/internal/provider/plaintext"
	"github.com/LeJamon/goDarkpool/internal/tracker"
)

func key(name string) address.Pubkey {
	return address.Pubkey(sha256.Sum256([]byte(name)))
}

func TestDiscriminators(t *testing.T) {
	var want Discriminator
	sum := sha256.Sum256([]byte("global:place_order"))
	copy(want[:], sum[:8])
	assert.Equal(t, want, InstructionDiscriminator(InstructionPlaceOrder))

	sum = sha256.Sum256([]byte("account:Order"))
	copy(want[:], sum[:8])
	assert.Equal(t, want, AccountDiscriminator(AccountName))

	assert.NotEqual(t, InstructionDiscriminator(InstructionCancelOrder), InstructionDiscriminator(InstructionMatchOrders))
}

func TestPlaceOrderData(t *testing.T) {
	params := PlaceOrderParams{
		Side:   Sell,
		Kind:   Market,
		Amount: codec.EncodePlaintext(500),
		Price:  codec.EncodePlaintext(42),
		Nonce:  9,
	}

	data := PlaceOrderData(params)
	require.Len(t, data, 8+2+2*codec.ValueSize+8+1)
	disc := InstructionDiscriminator(InstructionPlaceOrder)
	assert.Equal(t, disc[:], data[:8])
	assert.Equal(t, byte(Sell), data[8])
	assert.Equal(t, byte(Market), data[9])
	assert.Equal(t, params.Amount[:], data[10:74])
	assert.Equal(t, params.Price[:], data[74:138])
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(data[138:146]))
	assert.Equal(t, byte(0), data[146])

	var p proof.Proof
	p[0], p[255] = 0x11, 0x22
	params.Eligibility = &p
	data = PlaceOrderData(params)
	require.Len(t, data, 147+proof.ProofSize)
	assert.Equal(t, byte(1), data[146])
	assert.Equal(t, p[:], data[147:])
}

func TestMatchOrdersInstruction(t *testing.T) {
	d, err := address.NewDeriver(address.Programs{Darkpool: key("darkpool"), MPC: key("mpc")}, 0)
	require.NoError(t, err)
	comp, err := d.ComputationAccountsFor(1, 77, CircuitComparePrices)
	require.NoError(t, err)

	payer := key("payer")
	ix := MatchOrders(key("darkpool"), MatchOrdersAccounts{
		Payer:       payer,
		BuyOrder:    key("buy"),
		SellOrder:   key("sell"),
		Computation: comp,
		MPCProgram:  key("mpc"),
	}, 77)

	require.Len(t, ix.Data, 16)
	assert.Equal(t, uint64(77), binary.LittleEndian.Uint64(ix.Data[8:]))
	assert.Equal(t, payer, ix.Accounts[0].Pubkey)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, comp.Computation, ix.Accounts[8].Pubkey)
	assert.True(t, ix.Accounts[8].IsWritable)
	assert.Equal(t, key("mpc"), ix.Accounts[len(ix.Accounts)-1].Pubkey)

	cancel := CancelOrder(key("darkpool"), payer, key("order"))
	disc := InstructionDiscriminator(InstructionCancelOrder)
	assert.Equal(t, disc[:], cancel.Data)
	assert.True(t, cancel.Accounts[0].IsSigner)
}

func testOrder() *Order {
	return &Order{
		Maker:     key("maker"),
		Pair:      key("pair"),
		Side:      Buy,
		Kind:      Limit,
		Amount:    codec.EncodePlaintext(1_000),
		Price:     codec.EncodePlaintext(25),
		Nonce:     3,
		Status:    StatusMatching,
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
		Bump:      254,
	}
}

func TestDecodeOrder(t *testing.T) {
	want := testOrder()
	data := want.Encode()
	require.Len(t, data, AccountSize)

	got, err := DecodeOrder(append(data, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Filled.IsZero())

	_, err = DecodeOrder(data[:AccountSize-1])
	assert.ErrorIs(t, err, ErrInvalidOrderAccount)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xFF
	_, err = DecodeOrder(bad)
	assert.ErrorIs(t, err, ErrInvalidOrderAccount)

	bad = append([]byte(nil), data...)
	bad[sideOfs] = 7
	_, err = DecodeOrder(bad)
	assert.ErrorIs(t, err, ErrInvalidOrderAccount)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
		err      error
	}{
		{"1.5", 6, 1_500_000, nil},
		{"0.000001", 6, 1, nil},
		{"1.50", 1, 15, nil},
		{" 42 ", 0, 42, nil},
		{"18446744073709551615", 0, 18_446_744_073_709_551_615, nil},
		{"18446744073709551616", 0, 0, ErrAmountOverflow},
		{"18446744073709.551616", 6, 0, ErrAmountOverflow},
		{"0.0000001", 6, 0, ErrAmountPrecision},
		{"-1", 6, 0, ErrInvalidAmount},
		{"one", 6, 0, ErrInvalidAmount},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.decimals)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(1_500_000, 6))
	assert.Equal(t, "0", FormatAmount(0, 6))
	assert.Equal(t, "0.000000001", FormatAmount(1, 9))
	assert.Equal(t, "42", FormatAmount(42, 0))
	assert.Equal(t, "18446744073709.551615", FormatAmount(18_446_744_073_709_551_615, 6))

	v, err := ParseAmount(FormatAmount(123_456_789, 4), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456_789), v)
}

type fakeSubmitter struct {
	payer address.Pubkey
	err   error
	sent  []ledger.Instruction
}

func (s *fakeSubmitter) Payer() address.Pubkey { return s.payer }

func (s *fakeSubmitter) Submit(_ context.Context, ixs []ledger.Instruction, _ ...ledger.Signer) (ledger.Signature, error) {
	if s.err != nil {
		return ledger.Signature{}, s.err
	}
	s.sent = append(s.sent, ixs...)
	return ledger.Signature{byte(len(s.sent))}, nil
}

type tracked struct {
	id   []byte
	kind tracker.Kind
	refs tracker.OrderRefs
}

type fakeTracker struct {
	calls []tracked
}

func (f *fakeTracker) Track(id []byte, kind tracker.Kind, refs tracker.OrderRefs) *tracker.PendingComputation {
	f.calls = append(f.calls, tracked{id: id, kind: kind, refs: refs})
	return &tracker.PendingComputation{RequestID: id, Kind: kind, Refs: refs, Status: tracker.StatusPending}
}

type fixture struct {
	client  *Client
	ledger  *mock.MockClient
	sub     *fakeSubmitter
	tracker *fakeTracker
	deriver *address.Deriver
	cfg     Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	enc, err := cascade.New([]provider.Provider{plaintext.New()}, cascade.Options{})
	require.NoError(t, err)
	require.NoError(t, enc.Initialize(context.Background()))

	cfg := Config{Darkpool: key("darkpool"), MPC: key("mpc"), ClusterOffset: 2}
	d, err := address.NewDeriver(address.Programs{Darkpool: cfg.Darkpool, MPC: cfg.MPC}, 0)
	require.NoError(t, err)

	f := &fixture{
		ledger:  mock.NewMockClient(ctrl),
		sub:     &fakeSubmitter{payer: key("maker")},
		tracker: &fakeTracker{},
		deriver: d,
		cfg:     cfg,
	}
	f.client = NewClient(cfg, f.ledger, f.sub, d, enc, f.tracker, nil)
	return f
}

func TestClientPlaceOrder(t *testing.T) {
	f := newFixture(t)
	base, quote := key("base"), key("quote")

	placed, err := f.client.PlaceOrder(context.Background(), PlaceRequest{
		BaseMint:  base,
		QuoteMint: quote,
		Side:      Sell,
		Kind:      Limit,
		Amount:    1_000_000_000,
		Price:     17,
		Nonce:     5,
	})
	require.NoError(t, err)

	wantOrder, err := f.deriver.Order(key("maker"), 5)
	require.NoError(t, err)
	assert.Equal(t, wantOrder.Address, placed.Order)

	require.Len(t, f.sub.sent, 1)
	ix := f.sub.sent[0]
	assert.Equal(t, f.cfg.Darkpool, ix.ProgramID)
	assert.Equal(t, wantOrder.Address, ix.Accounts[3].Pubkey)

	balance, err := f.deriver.Balance(key("maker"), base)
	require.NoError(t, err)
	assert.Equal(t, balance.Address, ix.Accounts[4].Pubkey)

	amount, err := codec.ParseEncryptedValue(ix.Data[10:74])
	require.NoError(t, err)
	v, err := codec.DecodePlaintext(amount)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), v)
}

func TestClientCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := key("order")

	mine := testOrder()
	mine.Maker = key("maker")
	theirs := testOrder()

	gomock.InOrder(
		f.ledger.EXPECT().GetAccountInfo(gomock.Any(), addr).Return(&ledger.AccountInfo{Data: mine.Encode()}, nil),
		f.ledger.EXPECT().GetAccountInfo(gomock.Any(), addr).Return(&ledger.AccountInfo{Data: theirs.Encode()}, nil),
		f.ledger.EXPECT().GetAccountInfo(gomock.Any(), addr).Return(nil, errors.New("account not found")),
	)

	sig, err := f.client.CancelOrder(ctx, addr)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	require.Len(t, f.sub.sent, 1)
	assert.Equal(t, addr, f.sub.sent[0].Accounts[1].Pubkey)

	_, err = f.client.CancelOrder(ctx, addr)
	assert.ErrorIs(t, err, ErrNotMaker)

	_, err = f.client.CancelOrder(ctx, addr)
	assert.Error(t, err)
	assert.Len(t, f.sub.sent, 1)
}

func TestClientRequestMatch(t *testing.T) {
	f := newFixture(t)
	buy, sell := key("buy"), key("sell")

	req, err := f.client.RequestMatch(context.Background(), buy, sell)
	require.NoError(t, err)

	require.Len(t, f.sub.sent, 1)
	ix := f.sub.sent[0]
	assert.Equal(t, req.ComputationOffset, binary.LittleEndian.Uint64(ix.Data[8:]))

	comp, err := f.deriver.Computation(f.cfg.ClusterOffset, req.ComputationOffset)
	require.NoError(t, err)
	assert.Equal(t, comp.Address, ix.Accounts[8].Pubkey)

	require.Len(t, f.tracker.calls, 1)
	call := f.tracker.calls[0]
	assert.Equal(t, tracker.RequestID(req.ComputationOffset), call.id)
	assert.Equal(t, tracker.KindCompare, call.kind)
	assert.Equal(t, tracker.OrderRefs{Buy: buy, Sell: sell}, call.refs)
	assert.Equal(t, tracker.StatusPending, req.Pending.Status)
}

func TestClientRequestMatchSubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.sub.err = errors.New("blockhash expired")

	_, err := f.client.RequestMatch(context.Background(), key("buy"), key("sell"))
	assert.ErrorIs(t, err, f.sub.err)
	assert.Empty(t, f.tracker.calls)
}

func TestClientFetchAndReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := key("order")

	o := testOrder()
	o.Filled = codec.EncodePlaintext(400)
	f.ledger.EXPECT().GetAccountInfo(gomock.Any(), addr).Return(&ledger.AccountInfo{Data: o.Encode()}, nil)

	got, err := f.client.FetchOrder(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, got.Address)
	assert.Equal(t, StatusMatching, got.Status)

	r, err := f.client.Reveal(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, Revealed{Amount: 1_000, Price: 25, Filled: 400}, r)
}
