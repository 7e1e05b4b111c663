package memengine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/rexliu/fedwallet/pkg/core"
)

// Fake ecash notes and invoices use self-describing strings so any engine
// instance can parse what another produced.
const (
	notesPrefix   = "memnotes1"
	invoicePrefix = "lnmem1"
)

var (
	errInvalidNotes   = errors.New("invalid ecash notes")
	errInvalidInvoice = errors.New("invalid bolt11 invoice")
)

func parseInvite(code string) (core.ParsedInviteCode, error) {
	if err := core.ValidateInviteCode(code); err != nil {
		return core.ParsedInviteCode{}, err
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(code))))
	id := hex.EncodeToString(sum[:])
	return core.ParsedInviteCode{
		FederationID: id,
		URL:          "wss://" + id[:12] + ".fed.invalid/",
	}, nil
}

func federationConfig(fedID string) map[string]any {
	return map[string]any{
		"global": map[string]any{
			"api_endpoints": map[string]any{
				"0": map[string]string{"name": "guardian-0", "url": "wss://" + fedID[:12] + ".fed.invalid/"},
			},
			"meta": map[string]string{"federation_name": "mem-" + fedID[:8]},
		},
		"modules": map[string]any{
			"0": map[string]string{"kind": "ln"},
			"1": map[string]string{"kind": "mint"},
			"2": map[string]string{"kind": "wallet"},
		},
	}
}

func operationID(client string, seq uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", client, seq)))
	return hex.EncodeToString(sum[:])
}

func encodeNotes(fedID string, amount core.MSats, opID string) string {
	return fmt.Sprintf("%s%s_%d_%s", notesPrefix, fedID[:16], amount, opID)
}

type notes struct {
	fedPrefix   string
	amount      core.MSats
	operationID string
}

func parseNotes(s string) (notes, error) {
	rest, ok := strings.CutPrefix(s, notesPrefix)
	if !ok {
		return notes{}, errInvalidNotes
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 3 {
		return notes{}, errInvalidNotes
	}
	amount, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || amount == 0 {
		return notes{}, errInvalidNotes
	}
	return notes{fedPrefix: parts[0], amount: core.MSats(amount), operationID: parts[2]}, nil
}

type invoice struct {
	amountMsats core.MSats
	expiry      uint64
	memo        string
	operationID string
}

func encodeInvoice(inv invoice) string {
	return fmt.Sprintf("%s%d_%d_%s_%s", invoicePrefix, inv.amountMsats, inv.expiry,
		hex.EncodeToString([]byte(inv.memo)), inv.operationID)
}

func parseInvoice(s string) (invoice, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), invoicePrefix)
	if !ok {
		return invoice{}, errInvalidInvoice
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 4 {
		return invoice{}, errInvalidInvoice
	}
	amount, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return invoice{}, errInvalidInvoice
	}
	expiry, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return invoice{}, errInvalidInvoice
	}
	memo, err := hex.DecodeString(parts[2])
	if err != nil {
		return invoice{}, errInvalidInvoice
	}
	return invoice{
		amountMsats: core.MSats(amount),
		expiry:      expiry,
		memo:        string(memo),
		operationID: parts[3],
	}, nil
}

var wordlist = strings.Fields(`
abandon ability able about above absent absorb abstract absurd abuse access
accident account accuse achieve acid acoustic acquire across act action actor
actress actual adapt add addict address adjust admit adult advance advice
aerobic affair afford afraid again age agent agree ahead aim air airport aisle
alarm album alcohol alert alien all alley allow almost alone alpha already also
alter always amateur amazing among amount amused analyst anchor ancient anger
angle angry animal ankle announce annual another answer antenna antique anxiety
`)

func randomWords(n int) ([]string, error) {
	words := make([]string, n)
	max := big.NewInt(int64(len(wordlist)))
	for i := range words {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		words[i] = wordlist[idx.Int64()]
	}
	return words, nil
}
