// Package points computes the derived scoreboards both partners compare.
// Everything here is a pure function over mirrored rows: totals always use the
// points_earned snapshot frozen at completion time, never the task's current
// point value.
package points

import (
	"sort"

	"github.com/florianbuchner/whodoes/internal/model"
)

// DefaultTopTaskLimit bounds the top-task ranking.
const DefaultTopTaskLimit = 5

// PartnerPoints is one partner's total within a window.
type PartnerPoints struct {
	PartnerID       string `json:"partner_id"`
	PartnerName     string `json:"partner_name"`
	TotalPoints     int    `json:"total_points"`
	CompletionCount int    `json:"completion_count"`
}

// TaskRank is one task's aggregate within a window.
type TaskRank struct {
	TaskID          string         `json:"task_id"`
	TaskName        string         `json:"task_name"`
	TotalPoints     int            `json:"total_points"`
	PerPartnerCount map[string]int `json:"per_partner_count"`
}

// ComputePoints sums points_earned per partner over completions whose
// completed_at falls inside the window. Every partner appears in the result in
// input order, including partners with no completions.
func ComputePoints(completions []model.TaskCompletion, partners []model.Partner, w Window) []PartnerPoints {
	totals := make(map[string]*PartnerPoints, len(partners))
	result := make([]PartnerPoints, len(partners))
	for i, p := range partners {
		result[i] = PartnerPoints{PartnerID: p.ID, PartnerName: p.Name}
		totals[p.ID] = &result[i]
	}

	for _, c := range completions {
		if !w.Contains(c.CompletedAt) {
			continue
		}
		entry, ok := totals[c.PartnerID]
		if !ok {
			continue
		}
		entry.TotalPoints += c.PointsEarned
		entry.CompletionCount++
	}
	return result
}

// ComputeTopTasks joins completions to tasks and returns up to limit tasks
// ordered by total points descending, ties broken by task id. Completions
// whose task is absent from tasks (hard-deleted) are dropped by the join;
// tasks with no in-window completions do not appear.
func ComputeTopTasks(completions []model.TaskCompletion, tasks []model.Task, w Window, limit int) []TaskRank {
	if limit <= 0 {
		limit = DefaultTopTaskLimit
	}

	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	ranks := make(map[string]*TaskRank)
	for _, c := range completions {
		if !w.Contains(c.CompletedAt) {
			continue
		}
		task, ok := byID[c.TaskID]
		if !ok {
			continue
		}
		entry, ok := ranks[task.ID]
		if !ok {
			entry = &TaskRank{
				TaskID:          task.ID,
				TaskName:        task.Name,
				PerPartnerCount: make(map[string]int),
			}
			ranks[task.ID] = entry
		}
		entry.TotalPoints += c.PointsEarned
		entry.PerPartnerCount[c.PartnerID]++
	}

	ordered := make([]TaskRank, 0, len(ranks))
	for _, r := range ranks {
		ordered = append(ordered, *r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TotalPoints != ordered[j].TotalPoints {
			return ordered[i].TotalPoints > ordered[j].TotalPoints
		}
		return ordered[i].TaskID < ordered[j].TaskID
	})

	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}
