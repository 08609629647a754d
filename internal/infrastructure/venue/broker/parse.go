package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tickerhub/internal/domain"
)

const (
	trIDDomestic = "H0STCNT0"
	trIDForeign  = "HDFSCNT0"

	foreignKeyPrefix = "DNAS"
)

// Domestic realtime bodies are caret-delimited. Field offsets follow the
// venue's H0STCNT0 layout.
const (
	domFieldSymbol = 0
	domFieldPrice  = 2
	domFieldChange = 5
	domFieldHigh   = 8
	domFieldLow    = 9
	domFieldMin    = 10
)

// Foreign realtime bodies use the HDFSCNT0 layout.
const (
	forFieldSymbol = 1
	forFieldHigh   = 9
	forFieldLow    = 10
	forFieldPrice  = 11
	forFieldChange = 14
	forFieldMin    = 15
)

type controlFrame struct {
	Header struct {
		TrID  string `json:"tr_id"`
		TrKey string `json:"tr_key"`
	} `json:"header"`
	Body struct {
		Output struct {
			Symbol string `json:"SYMB"`
			Last   string `json:"LAST"`
			High   string `json:"HIGH"`
			Low    string `json:"LOW"`
			Rate   string `json:"RATE"`
		} `json:"output"`
	} `json:"body"`
}

// decodeFrame parses one inbound frame. Control acks and ping frames yield
// no ticks and no error.
func decodeFrame(data []byte) ([]domain.Tick, error) {
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return nil, nil
	}

	if strings.HasPrefix(msg, "{") {
		return decodeJSONFrame([]byte(msg))
	}
	if strings.Contains(msg, "|") {
		return decodePipeFrame(msg)
	}
	return nil, fmt.Errorf("unrecognized frame: %.40s", msg)
}

func decodeJSONFrame(data []byte) ([]domain.Tick, error) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("json frame: %w", err)
	}

	// Foreign realtime data occasionally arrives as JSON instead of the
	// pipe format.
	if frame.Header.TrID == trIDForeign && frame.Body.Output.Symbol != "" {
		out := frame.Body.Output
		return []domain.Tick{{
			Symbol:     out.Symbol,
			Price:      domain.ParseDecimal(out.Last),
			High:       domain.ParseDecimal(out.High),
			Low:        domain.ParseDecimal(out.Low),
			ChangeRate: domain.ParseDecimal(out.Rate),
			Ts:         time.Now().UnixMilli(),
		}}, nil
	}

	// Subscribe acks, pingpong, and other control responses.
	return nil, nil
}

func decodePipeFrame(msg string) ([]domain.Tick, error) {
	parts := strings.Split(msg, "|")
	if len(parts) <= 3 {
		return nil, fmt.Errorf("short pipe frame: %.40s", msg)
	}

	fields := strings.Split(parts[3], "^")
	switch parts[1] {
	case trIDDomestic:
		if len(fields) < domFieldMin {
			return nil, fmt.Errorf("domestic frame has %d fields", len(fields))
		}
		return []domain.Tick{{
			Symbol:     fields[domFieldSymbol],
			Price:      domain.ParseDecimal(fields[domFieldPrice]),
			ChangeRate: domain.ParseDecimal(fields[domFieldChange]),
			High:       domain.ParseDecimal(fields[domFieldHigh]),
			Low:        domain.ParseDecimal(fields[domFieldLow]),
			Ts:         time.Now().UnixMilli(),
		}}, nil
	case trIDForeign:
		if len(fields) < forFieldMin {
			return nil, fmt.Errorf("foreign frame has %d fields", len(fields))
		}
		return []domain.Tick{{
			Symbol:     fields[forFieldSymbol],
			Price:      domain.ParseDecimal(fields[forFieldPrice]),
			High:       domain.ParseDecimal(fields[forFieldHigh]),
			Low:        domain.ParseDecimal(fields[forFieldLow]),
			ChangeRate: domain.ParseDecimal(fields[forFieldChange]),
			Ts:         time.Now().UnixMilli(),
		}}, nil
	default:
		return nil, nil
	}
}
