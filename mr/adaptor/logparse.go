package adaptor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joshuapare/gpumr/mr"
)

// Event is one parsed line of an allocation log.
type Event struct {
	Time   time.Time // time of day only
	Action Action
	Ptr    mr.Ptr
	Size   uint64
	Stream mr.Stream
}

// ParseLog reads an allocation log written by a Logging adaptor.
func ParseLog(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(LogHeader)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty allocation log", mr.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: allocation log header: %v", mr.ErrInvalidArgument, err)
	}
	if !slices.Equal(header, LogHeader) {
		return nil, fmt.Errorf("%w: unexpected allocation log header %q", mr.ErrInvalidArgument, strings.Join(header, ","))
	}

	var events []Event
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", mr.ErrInvalidArgument, err)
		}
		line, _ := cr.FieldPos(0)
		ev, err := parseEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", mr.ErrInvalidArgument, line, err)
		}
		events = append(events, ev)
	}
}

func parseEvent(rec []string) (Event, error) {
	var ev Event
	t, err := time.Parse(logTimeLayout, rec[0])
	if err != nil {
		return ev, fmt.Errorf("time %q: %w", rec[0], err)
	}
	ev.Time = t

	switch a := Action(rec[1]); a {
	case ActionAllocate, ActionDeallocate, ActionAllocateFailure:
		ev.Action = a
	default:
		return ev, fmt.Errorf("unknown action %q", rec[1])
	}

	p, err := parseHex(rec[2])
	if err != nil {
		return ev, fmt.Errorf("pointer %q: %w", rec[2], err)
	}
	ev.Ptr = mr.Ptr(p)

	if ev.Size, err = strconv.ParseUint(rec[3], 10, 64); err != nil {
		return ev, fmt.Errorf("size %q: %w", rec[3], err)
	}

	s, err := parseHex(rec[4])
	if err != nil {
		return ev, fmt.Errorf("stream %q: %w", rec[4], err)
	}
	ev.Stream = mr.Stream(s)
	return ev, nil
}

func parseHex(s string) (uintptr, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 64)
	return uintptr(v), err
}
