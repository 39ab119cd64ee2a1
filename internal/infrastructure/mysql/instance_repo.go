package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type InstanceRepository struct {
	db *sql.DB
}

func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Upsert(ctx context.Context, i *domain.Instance) (*domain.Instance, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instances (instance_id, ip, mac_addr, namespace, status, sys_user, ssh_port, comet_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			ip = VALUES(ip), mac_addr = VALUES(mac_addr), namespace = VALUES(namespace),
			status = VALUES(status), sys_user = VALUES(sys_user), ssh_port = VALUES(ssh_port),
			comet_id = VALUES(comet_id), updated_at = NOW()`,
		i.InstanceID, i.IP, i.MacAddr, i.Namespace, i.Status, i.SysUser, i.SSHPort, i.CometID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert instance: %w", err)
	}
	return r.GetByID(ctx, i.InstanceID)
}

func (r *InstanceRepository) GetByID(ctx context.Context, instanceID string) (*domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, instanceSelect+` WHERE instance_id = ?`, instanceID)
	return scanInstance(row)
}

func (r *InstanceRepository) SetOnline(ctx context.Context, instanceID, cometID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances SET status = ?, comet_id = ?, updated_at = NOW() WHERE instance_id = ?`,
		domain.InstanceOnline, cometID, instanceID,
	)
	if err != nil {
		return fmt.Errorf("set instance online: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set instance online: %w", err)
	}
	if n == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}

func (r *InstanceRepository) SetOffline(ctx context.Context, instanceID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances SET status = ?, comet_id = '', updated_at = NOW() WHERE instance_id = ?`,
		domain.InstanceOffline, instanceID,
	)
	if err != nil {
		return fmt.Errorf("set instance offline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set instance offline: %w", err)
	}
	if n == 0 {
		return domain.ErrInstanceNotFound
	}
	return nil
}

func (r *InstanceRepository) CreateGroup(ctx context.Context, g *domain.InstanceGroup) (*domain.InstanceGroup, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO instance_groups (name, namespace) VALUES (?, ?)`, g.Name, g.Namespace)
	if err != nil {
		return nil, fmt.Errorf("create instance group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create instance group: %w", err)
	}
	groupID := fmt.Sprintf("%d", id)

	for _, instanceID := range g.InstanceIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO instance_group_members (group_id, instance_id) VALUES (?, ?)`,
			groupID, instanceID,
		); err != nil {
			return nil, fmt.Errorf("create instance group: add member %s: %w", instanceID, err)
		}
	}
	return r.GetGroup(ctx, groupID)
}

func (r *InstanceRepository) GetGroup(ctx context.Context, id string) (*domain.InstanceGroup, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, namespace FROM instance_groups WHERE id = ?`, id)
	var g domain.InstanceGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Namespace); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("scan instance group: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT instance_id FROM instance_group_members WHERE group_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var instanceID string
		if err := rows.Scan(&instanceID); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		g.InstanceIDs = append(g.InstanceIDs, instanceID)
	}
	return &g, rows.Err()
}

// Resolve expands sel into the union of its explicit instance ids and every
// member of every named group, deduplicated.
func (r *InstanceRepository) Resolve(ctx context.Context, sel domain.TargetSelector) ([]*domain.Instance, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, id := range sel.InstanceIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, groupID := range sel.GroupIDs {
		g, err := r.GetGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		for _, id := range g.InstanceIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := instanceSelect + ` WHERE instance_id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve target selector: %w", err)
	}
	defer rows.Close()

	var instances []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

const instanceSelect = `
	SELECT instance_id, ip, mac_addr, namespace, status, sys_user, ssh_port, comet_id, updated_at
	FROM instances`

func scanInstance(row rowScanner) (*domain.Instance, error) {
	var i domain.Instance
	err := row.Scan(&i.InstanceID, &i.IP, &i.MacAddr, &i.Namespace, &i.Status,
		&i.SysUser, &i.SSHPort, &i.CometID, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return &i, nil
}
