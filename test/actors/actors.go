package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicflow/identity"
	"civicflow/issue"
)

var categories = []issue.Category{
	issue.CategoryPothole,
	issue.CategoryWaterLeak,
	issue.CategoryBrokenStreetlight,
	issue.CategoryGraffiti,
	issue.CategoryIllegalDumping,
	issue.CategoryTrafficSignal,
	issue.CategoryNoiseComplaint,
	issue.CategoryTreeMaintenance,
}

// Reporter files new issues in a loop, sometimes with a location attached.
func Reporter(ctx context.Context, svc *issue.Service, reporterID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		params := issue.CreateParams{
			ReporterID: reporterID,
			Title:      fmt.Sprintf("stress issue %d-%d", rand.Int63(), i),
			Category:   categories[rand.Intn(len(categories))],
		}
		if rand.Intn(2) == 0 {
			lat := 40.0 + rand.Float64()
			lng := -74.0 + rand.Float64()
			addr := fmt.Sprintf("%d Main St", rand.Intn(999)+1)
			params.Latitude, params.Longitude, params.Address = &lat, &lng, &addr
		}

		if _, err := svc.Create(ctx, params); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// transient failures (including chaos-killed backends) are expected
			time.Sleep(50 * time.Millisecond)
			continue
		}
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// StaffWorker advances random non-resolved issues along legal edges.
// Conflicts with other workers are expected and retried on the next pick.
func StaffWorker(ctx context.Context, pool *pgxpool.Pool, engine *issue.Engine, actor identity.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		var status issue.Status
		err := pool.QueryRow(ctx, `
			SELECT id, status FROM issues
			WHERE status <> 'resolved'
			ORDER BY random() LIMIT 1
		`).Scan(&id, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		next := issue.NextStatuses(status)
		if len(next) == 0 {
			continue
		}
		params := issue.TransitionParams{
			IssueID:    id,
			Actor:      actor,
			NextStatus: next[rand.Intn(len(next))],
		}
		if params.NextStatus == issue.StatusAssigned && actor.Role != identity.RoleFieldWorker {
			dept := "public-works"
			params.AssignTo = &actor.ActorID
			params.AssignDepartment = &dept
		}

		_, err = engine.Transition(ctx, params)
		switch {
		case err == nil:
		case errors.Is(err, issue.ErrConcurrentModification),
			errors.Is(err, issue.ErrInvalidTransition),
			errors.Is(err, issue.ErrNotFound):
			// lost the race or picked a stale snapshot, try another issue
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Attacher adds photo evidence to the reporter's own issues.
func Attacher(ctx context.Context, pool *pgxpool.Pool, svc *issue.Service, actor identity.Identity, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `
			SELECT id FROM issues WHERE user_id = $1
			ORDER BY random() LIMIT 1
		`, actor.ActorID).Scan(&id)
		if err != nil {
			time.Sleep(60 * time.Millisecond)
			continue
		}

		atts := []issue.Attachment{{
			URL:  fmt.Sprintf("https://cdn.example.com/photos/%d.jpg", rand.Int63()),
			Kind: issue.AttachmentPhoto,
		}}
		if _, err := svc.AttachFiles(ctx, actor, id, atts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}
