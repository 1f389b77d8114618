// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package wss

import (
	"strings"
	"time"

	"github.com/beevik/etree"
)

type timestampBuilder struct{}

func (b *timestampBuilder) Build(h *SecurityHeader, rd *RequestData) error {
	created := rd.now().UTC()
	ts := etree.NewElement("wsu:Timestamp")
	ts.CreateAttr("xmlns:wsu", NSSecurityUtil)
	ensureID(ts, "TS-")
	ts.CreateElement("wsu:Created").SetText(created.Format(timeFormat))
	if rd.TimeToLive != 0 {
		ts.CreateElement("wsu:Expires").SetText(created.Add(rd.TimeToLive).Format(timeFormat))
	}
	h.Append(ts)
	return nil
}

type timestampProcessor struct{}

func (p *timestampProcessor) Process(el *etree.Element, pc *ProcessContext) (*Result, error) {
	pc.timestamps++
	if pc.timestamps > 1 {
		return nil, NewSecurityError(InvalidSecurity, "more than one Timestamp")
	}
	info, err := parseTimestamp(el)
	if err != nil {
		return nil, err
	}
	if info.HasExpires() && !pc.Now().Before(info.Expires) {
		return nil, NewSecurityError(MessageExpired, "")
	}
	return NewResult(Timestamp, map[Tag]any{
		TagTimestamp: info,
		TagID:        info.ID,
	}), nil
}

func parseTimestamp(el *etree.Element) (*TimestampInfo, error) {
	created := childrenNS(el, NSSecurityUtil, "Created")
	expires := childrenNS(el, NSSecurityUtil, "Expires")
	if len(created) != 1 || len(expires) > 1 {
		return nil, NewSecurityError(InvalidSecurity, "malformed Timestamp")
	}
	info := &TimestampInfo{ID: elementID(el)}
	var err error
	if info.Created, err = parseTime(created[0].Text()); err != nil {
		return nil, WrapSecurityError(InvalidSecurity, "malformed Created", err)
	}
	if len(expires) == 1 {
		if info.Expires, err = parseTime(expires[0].Text()); err != nil {
			return nil, WrapSecurityError(InvalidSecurity, "malformed Expires", err)
		}
	}
	return info, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
