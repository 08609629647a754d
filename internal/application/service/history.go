package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// AlertRecorder consumes the alert topic and persists each fired alert as a
// history record. Consumption is at-least-once; duplicate rows are tolerated
// by the history contract.
type AlertRecorder struct {
	reader  port.BusReader
	history port.AlertHistory
}

func NewAlertRecorder(reader port.BusReader, history port.AlertHistory) *AlertRecorder {
	return &AlertRecorder{reader: reader, history: history}
}

func (r *AlertRecorder) Run(ctx context.Context) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Error().Err(err).Msg("alert recorder read failed")
			continue
		}

		var ev domain.AlertEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("alert recorder: malformed event dropped")
			continue
		}

		rec := port.AlertRecord{
			UserEmail:    ev.UserEmail,
			Symbol:       ev.Symbol,
			TargetPrice:  ev.TargetPrice,
			CurrentPrice: ev.CurrentPrice,
			Condition:    ev.Condition,
			TriggeredAt:  ev.Timestamp,
		}
		if err := r.history.Insert(ctx, rec); err != nil {
			log.Error().Err(err).Str("user", ev.UserEmail).Str("symbol", ev.Symbol).Msg("alert history insert failed")
			continue
		}
		log.Info().Str("user", ev.UserEmail).Str("symbol", ev.Symbol).Msg("alert recorded")
	}
}
