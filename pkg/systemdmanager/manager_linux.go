//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager talks to the system or the per-user systemd instance.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// New connects to the user instance when user is set, else the system one.
func New(ctx context.Context, user bool) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

func (m *Manager) connection() (*dbus.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, fmt.Errorf("systemd connection is closed")
	}
	return m.conn, nil
}

// Status reads the unit's state, main PID, memory and enablement.
func (m *Manager) Status(ctx context.Context, name string) (*UnitStatus, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}
	unit := UnitName(name)

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return &UnitStatus{Name: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}, nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}

	st := &UnitStatus{
		Name:        unit,
		Active:      getStringProperty(props, "ActiveState"),
		SubState:    getStringProperty(props, "SubState"),
		LoadState:   getStringProperty(props, "LoadState"),
		Description: getStringProperty(props, "Description"),
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
		StateChange: parseTimestamp(props, "StateChangeTimestamp"),
	}
	if !st.Found() {
		return st, nil
	}

	if strings.HasSuffix(unit, ".service") {
		if sp, err := conn.GetUnitTypePropertiesContext(ctx, unit, "Service"); err == nil {
			if pid, ok := sp["MainPID"].(uint32); ok {
				st.MainPID = pid
			}
			st.Memory = getUint64Property(sp, "MemoryCurrent")
		}
	}
	st.Enabled = m.isEnabled(ctx, conn, unit)
	return st, nil
}

func (m *Manager) isEnabled(ctx context.Context, conn *dbus.Conn, unit string) bool {
	states, err := conn.ListUnitFilesByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return false
	}
	for _, s := range states {
		if s.Path == unit || strings.HasSuffix(s.Path, "/"+unit) {
			return s.Type == "enabled"
		}
	}
	return false
}

// Restart restarts the unit and waits for the job to finish.
func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.job(ctx, "restart", name, func(c *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return c.RestartUnitContext(ctx, unit, "replace", ch)
	})
}

// Stop stops the unit and waits for the job to finish.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.job(ctx, "stop", name, func(c *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, unit, "replace", ch)
	})
}

func (m *Manager) job(ctx context.Context, action, name string, start func(*dbus.Conn, string, chan<- string) (int, error)) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	unit := UnitName(name)
	ch := make(chan string, 1)
	if _, err := start(conn, unit, ch); err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, unit, err)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("%s %s: job result %q", action, unit, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", action, ctx.Err())
	}
}
