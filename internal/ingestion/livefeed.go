package ingestion

import (
	"context"
	"strings"
	"time"

	"dexabsorption/internal/bus"
	"dexabsorption/internal/chainfeed"
	"dexabsorption/internal/domain"

	"github.com/rs/zerolog/log"
)

// knownPrograms maps a program ID to the InstructionKind it represents.
// An ID in config.ChainFeedConfig.ProgramIDs that isn't one of these
// still gets a RawEvent with InstructionUnknown — downstream components
// treat unknown-kind events as input worth trying to normalize, not a
// reason to drop them outright.
var knownPrograms = map[string]domain.InstructionKind{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": domain.InstructionRaydiumSwap, // Raydium AMM v4
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  domain.InstructionPumpSwap,    // pump.fun bonding curve
}

// LiveFeed wires a LogSubscriber and a ChainClient into a stream of
// RawEvent on out, bridging the websocket push notifications (signature
// only) to the full transaction fetch the Normalizer needs.
type LiveFeed struct {
	sub    *chainfeed.LogSubscriber
	client *chainfeed.ChainClient
	out    *bus.Queue[RawEvent]

	counter slotTxCounter
}

// NewLiveFeed creates a feed that calls client.GetTransaction for every
// notification sub delivers and enqueues the parsed result onto out.
func NewLiveFeed(sub *chainfeed.LogSubscriber, client *chainfeed.ChainClient, out *bus.Queue[RawEvent]) *LiveFeed {
	f := &LiveFeed{sub: sub, client: client, out: out}
	sub.OnLogs(f.handleNotification)
	return f
}

func (f *LiveFeed) handleNotification(n chainfeed.LogNotification) {
	if len(n.Err) > 0 && string(n.Err) != "null" {
		return
	}

	programID := f.matchProgramID(n.Logs)
	if programID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := f.client.GetTransaction(ctx, n.Signature)
	if err != nil {
		log.Warn().Err(err).Str("signature", n.Signature).Msg("failed to fetch transaction for log notification")
		return
	}

	kind := knownPrograms[programID]
	if kind == "" {
		kind = domain.InstructionUnknown
	}

	ev, err := ParseTransaction(tx, n.Signature, programID, kind, &f.counter)
	if err != nil {
		log.Debug().Err(err).Str("signature", n.Signature).Msg("dropping unparsable transaction")
		return
	}

	f.out.TrySend(ev)
}

// matchProgramID scans the notification's log lines for "Program
// <id> invoke" against the known program set, the same substring
// convention the teacher's PriceFeed used to recognize its own
// program's logs.
func (f *LiveFeed) matchProgramID(logs []string) string {
	for _, line := range logs {
		for id := range knownPrograms {
			if strings.Contains(line, id) {
				return id
			}
		}
	}
	return ""
}
