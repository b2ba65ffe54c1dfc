package search

import (
	"ask4rent/internal/backend"
	"ask4rent/internal/geo"
	"ask4rent/internal/model"
	"context"
	"strings"
)

// SubmitQuery：自然语言查询，进入房源模式；空白查询忽略
func (o *Orchestrator) SubmitQuery(ctx context.Context, text string) Snapshot {
	text = strings.TrimSpace(text)
	if text == "" {
		return o.Snapshot()
	}
	seq, cctx, cancel := o.begin(ctx, ModeProperties, true, func() {
		o.resetLocked(ModeProperties)
		o.back = nil
	})
	defer cancel()

	var props []model.Property
	err := o.withSession(cctx, seq, func(token string) error {
		var err error
		props, err = o.be.Query(cctx, token, text)
		return err
	})
	if err != nil {
		o.failed("query", seq, err)
		snap, _ := o.commit(seq, func() { o.cur.Message = messageFor(err) })
		return snap
	}
	if len(props) == 0 {
		o.emptyResult(ModeProperties)
	}
	snap, _ := o.commit(seq, func() {
		o.all = props
		o.cur.View = o.calc.Compute(model.Locations(props))
		o.cur.Message = foundMessage(len(props))
	})
	return snap
}

// ShowZones：行政区总览；清空全部选择，视口回到默认区域的远景
func (o *Orchestrator) ShowZones(ctx context.Context) Snapshot {
	seq, cctx, cancel := o.begin(ctx, ModeTerritorialAuthorities, true, func() {
		o.resetLocked(ModeTerritorialAuthorities)
		o.back = nil
		o.cur.View = geo.ViewState{Center: o.calc.Default.Center, Zoom: ZoomOverview}
	})
	defer cancel()

	var tas []model.TerritorialAuthority
	err := o.withSession(cctx, seq, func(token string) error {
		var err error
		tas, err = o.be.TerritorialAuthorities(cctx, token)
		return err
	})
	if err != nil {
		o.failed("territorial_authorities", seq, err)
		snap, _ := o.commit(seq, func() { o.cur.Message = messageFor(err) })
		return snap
	}
	if len(tas) == 0 {
		o.emptyResult(ModeTerritorialAuthorities)
	}
	snap, _ := o.commit(seq, func() {
		o.cur.TerritorialAuthorities = tas
		if len(tas) == 0 {
			o.cur.Message = &Message{Level: LevelInfo, Text: TextNoTAs}
		}
	})
	return snap
}

// SelectTA：进入行政区学校视图
// 约束：边界缺失时以行政区中心画固定半径的近似圆；视口以行政区为中心、中等缩放
func (o *Orchestrator) SelectTA(ctx context.Context, ta model.TerritorialAuthority) Snapshot {
	seq, cctx, cancel := o.begin(ctx, ModeZones, true, func() {
		o.resetLocked(ModeZones)
		o.back = nil
		sel := ta
		o.cur.SelectedTA = &sel
		o.cur.View = geo.ViewState{Center: ta.Location, Zoom: ZoomTA}
	})
	defer cancel()

	var res backend.ZoneResult
	err := o.withSession(cctx, seq, func(token string) error {
		var err error
		res, err = o.be.SchoolsByTA(cctx, token, ta.Name)
		return err
	})
	if err != nil {
		o.failed("schools_by_ta", seq, err)
		snap, _ := o.commit(seq, func() { o.cur.Message = messageFor(err) })
		return snap
	}

	zone, gerr := geo.Normalize(res.Boundary)
	approx := false
	if zone == nil {
		if gerr != nil {
			// 无法解析的边界按畸形响应处理：结果集为空，仅保留近似圆作取景
			o.log.Warn("search_zone_malformed", "ta", ta.Name, "err", gerr)
			res.Schools = nil
		}
		c := geo.Circle(ta.Location, o.radius, 0)
		zone, approx = &c, true
	}
	if gerr == nil && len(res.Schools) == 0 {
		o.emptyResult(ModeZones)
	}
	snap, _ := o.commit(seq, func() {
		o.cur.Schools = res.Schools
		o.cur.Zone = zone
		o.cur.ZoneApproximate = approx
		switch {
		case gerr != nil:
			o.cur.Message = messageFor(gerr)
		case len(res.Schools) == 0:
			o.cur.Message = &Message{Level: LevelInfo, Text: TextNoSchools}
		}
	})
	return snap
}

// SelectSchool：进入学校附近房源视图
// 约束：保留所属行政区选择；结果为空时仍以学校为中心，但使用稍远的缩放
func (o *Orchestrator) SelectSchool(ctx context.Context, school model.School) Snapshot {
	seq, cctx, cancel := o.begin(ctx, ModeProperties, true, func() {
		var back *zonesState
		if o.cur.Mode == ModeZones && o.cur.SelectedTA != nil {
			back = &zonesState{
				ta:      *o.cur.SelectedTA,
				schools: o.cur.Schools,
				zone:    o.cur.Zone,
				approx:  o.cur.ZoneApproximate,
				view:    o.cur.View,
			}
		} else if o.back != nil && o.cur.SelectedSchool != nil {
			// 从一个学校切到另一个学校时沿用原行政区视图
			back = o.back
		}
		ta := o.cur.SelectedTA
		o.resetLocked(ModeProperties)
		o.back = back
		o.cur.SelectedTA = ta
		sel := school
		o.cur.SelectedSchool = &sel
	})
	defer cancel()

	var res backend.RentalsResult
	err := o.withSession(cctx, seq, func(token string) error {
		var err error
		res, err = o.be.RentalsBySchool(cctx, token, school.Name)
		return err
	})
	if err != nil {
		o.failed("rentals_by_school", seq, err)
		snap, _ := o.commit(seq, func() {
			o.cur.View = geo.ViewState{Center: school.Location, Zoom: ZoomSchoolEmpty}
			o.cur.Message = messageFor(err)
		})
		return snap
	}

	zone, gerr := geo.Normalize(res.Boundary)
	if gerr != nil {
		o.log.Warn("search_zone_malformed", "school", school.Name, "err", gerr)
		res.Properties = nil
	}
	if gerr == nil && len(res.Properties) == 0 {
		o.emptyResult(ModeProperties)
	}
	snap, _ := o.commit(seq, func() {
		o.all = res.Properties
		o.cur.Zone = zone
		zoom := ZoomSchool
		if len(res.Properties) == 0 {
			zoom = ZoomSchoolEmpty
		}
		o.cur.View = geo.ViewState{Center: school.Location, Zoom: zoom}
		if gerr != nil {
			o.cur.Message = messageFor(gerr)
		} else {
			o.cur.Message = foundMessage(len(res.Properties))
		}
	})
	return snap
}

// ShowCommute：进入通勤模式，等待选择起点；不发请求
func (o *Orchestrator) ShowCommute(ctx context.Context) Snapshot {
	seq, _, cancel := o.begin(ctx, ModeCommute, false, func() {
		o.resetLocked(ModeCommute)
		o.back = nil
		o.cur.View = geo.ViewState{Center: o.calc.Default.Center, Zoom: ZoomCommuteWide}
	})
	cancel()
	snap, _ := o.commit(seq, func() {})
	return snap
}

// SetCommuteOrigin：设置通勤起点（地名检索结果或地图点击）
// 约束：非通勤模式下先按进入通勤模式清理；旧起点的进行中请求随之失效
func (o *Orchestrator) SetCommuteOrigin(ctx context.Context, p geo.Point) Snapshot {
	if !p.Valid() {
		return o.Snapshot()
	}
	seq, _, cancel := o.begin(ctx, ModeCommute, false, func() {
		if o.cur.Mode != ModeCommute {
			o.resetLocked(ModeCommute)
			o.back = nil
		}
		o.all = nil
		o.cur.Isochrone = nil
		origin := p
		o.cur.CommuteOrigin = &origin
		o.cur.View = geo.ViewState{Center: p, Zoom: ZoomCommuteOrigin}
	})
	cancel()
	snap, _ := o.commit(seq, func() {})
	return snap
}

// SelectPlace：以地名检索结果作为通勤起点
func (o *Orchestrator) SelectPlace(ctx context.Context, pl model.Place) Snapshot {
	return o.SetCommuteOrigin(ctx, pl.Location)
}

// SearchPlaces：通勤起点的地名检索；不改变状态
func (o *Orchestrator) SearchPlaces(ctx context.Context, text string) ([]model.Place, error) {
	if o.places == nil {
		return nil, nil
	}
	return o.places.Search(ctx, text)
}

// SetCommuteMinutes：调整通勤时长（限制在 5..120）
func (o *Orchestrator) SetCommuteMinutes(n int) Snapshot {
	o.mu.Lock()
	o.cur.CommuteMinutes = ClampMinutes(n)
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap
}

// SubmitCommute：以当前起点与时长查询等时圈内房源
// 约束：未选择起点时不发请求；结果非空时按结果房源取景，否则保持以起点为中心
func (o *Orchestrator) SubmitCommute(ctx context.Context, minutes int) Snapshot {
	minutes = ClampMinutes(minutes)
	o.mu.Lock()
	ready := o.cur.Mode == ModeCommute && o.cur.CommuteOrigin != nil
	if !ready {
		o.cur.Message = &Message{Level: LevelWarning, Text: TextOriginRequired}
		snap := o.changedLocked()
		o.mu.Unlock()
		o.notify(snap)
		return snap
	}
	o.mu.Unlock()

	var origin *geo.Point
	seq, cctx, cancel := o.begin(ctx, ModeCommute, true, func() {
		// 起点在同一临界区内读取，避免与并发的 SetCommuteOrigin 交错
		if o.cur.CommuteOrigin != nil {
			v := *o.cur.CommuteOrigin
			origin = &v
		}
		o.all = nil
		o.cur.Isochrone = nil
		o.cur.Filters = Filters{}
		o.cur.CommuteMinutes = minutes
	})
	defer cancel()
	if origin == nil {
		snap, _ := o.commit(seq, func() {
			o.cur.Message = &Message{Level: LevelWarning, Text: TextOriginRequired}
		})
		return snap
	}

	var res backend.CommuteResult
	err := o.withSession(cctx, seq, func(token string) error {
		var err error
		res, err = o.be.Isochrone(cctx, token, *origin, minutes)
		return err
	})
	if err != nil {
		o.failed("isochrone", seq, err)
		snap, _ := o.commit(seq, func() {
			o.cur.View = geo.ViewState{Center: *origin, Zoom: ZoomCommuteOrigin}
			o.cur.Message = messageFor(err)
		})
		return snap
	}

	iso, gerr := geo.Normalize(res.Isochrone)
	if gerr != nil {
		o.log.Warn("search_isochrone_malformed", "err", gerr)
		res.Properties = nil
	}
	if gerr == nil && len(res.Properties) == 0 {
		o.emptyResult(ModeCommute)
	}
	snap, _ := o.commit(seq, func() {
		o.all = res.Properties
		o.cur.Isochrone = iso
		if len(res.Properties) > 0 {
			o.cur.View = o.calc.Compute(model.Locations(res.Properties))
		} else {
			o.cur.View = geo.ViewState{Center: *origin, Zoom: ZoomCommuteOrigin}
		}
		if gerr != nil {
			o.cur.Message = messageFor(gerr)
		} else {
			o.cur.Message = foundMessage(len(res.Properties))
		}
	})
	return snap
}

// GoHome：回到首页，清空全部选择与结果
func (o *Orchestrator) GoHome(ctx context.Context) Snapshot {
	seq, _, cancel := o.begin(ctx, ModeHome, false, func() {
		o.resetLocked(ModeHome)
		o.back = nil
		o.cur.View = o.calc.Default
	})
	cancel()
	snap, _ := o.commit(seq, func() {})
	return snap
}

// Back：逐级返回
// 约束：学校房源视图返回行政区视图（使用保存的学校与边界，不重新请求）；行政区视图返回行政区总览；其余回到首页
func (o *Orchestrator) Back(ctx context.Context) Snapshot {
	o.mu.Lock()
	mode, back := o.cur.Mode, o.back
	fromSchool := mode == ModeProperties && o.cur.SelectedSchool != nil && back != nil
	o.mu.Unlock()

	switch {
	case fromSchool:
		seq, _, cancel := o.begin(ctx, ModeZones, false, func() {
			o.resetLocked(ModeZones)
			o.back = nil
			ta := back.ta
			o.cur.SelectedTA = &ta
			o.cur.Schools = back.schools
			o.cur.Zone = back.zone
			o.cur.ZoneApproximate = back.approx
			o.cur.View = back.view
		})
		cancel()
		snap, _ := o.commit(seq, func() {})
		return snap
	case mode == ModeZones:
		return o.ShowZones(ctx)
	}
	return o.GoHome(ctx)
}

// SelectProperty：按身份键选中当前结果集中的房源，并以其为中心
// 约束：键规则与结果侧一致（id 优先，其次地址）；不在当前（过滤后）结果集中时返回 false
func (o *Orchestrator) SelectProperty(key string) (Snapshot, bool) {
	key = strings.TrimSpace(key)
	o.mu.Lock()
	var found *model.Property
	if key != "" {
		for _, p := range o.cur.Filters.apply(o.all) {
			if p.Key() == key {
				v := p
				found = &v
				break
			}
		}
	}
	if found == nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, false
	}
	o.cur.SelectedProperty = found
	o.cur.View = geo.ViewState{Center: found.Location, Zoom: ZoomProperty}
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap, true
}

// ClearSelection：取消选中房源，视口不变
func (o *Orchestrator) ClearSelection() Snapshot {
	o.mu.Lock()
	o.cur.SelectedProperty = nil
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap
}

// Recenter：用户显式重新定位视口
func (o *Orchestrator) Recenter(v geo.ViewState) Snapshot {
	o.mu.Lock()
	if v.Center.Valid() && v.Zoom > 0 {
		o.cur.View = v
	}
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap
}

// ApplyFilters：设置房源过滤条件；被过滤掉的选中房源同时取消选中
func (o *Orchestrator) ApplyFilters(f Filters) Snapshot {
	o.mu.Lock()
	o.cur.Filters = f
	if sp := o.cur.SelectedProperty; sp != nil && !f.Match(*sp) {
		o.cur.SelectedProperty = nil
	}
	snap := o.changedLocked()
	o.mu.Unlock()
	o.notify(snap)
	return snap
}

// ResetFilters 清除过滤条件
func (o *Orchestrator) ResetFilters() Snapshot { return o.ApplyFilters(Filters{}) }
