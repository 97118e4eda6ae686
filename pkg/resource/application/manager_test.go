package application

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

func newTestManager() *DataSourceManager {
	registry := NewRegistry()
	_ = registry.Register(&MockFactory{dsType: "MOCK"})
	_ = registry.Register(&MockFactory{dsType: "FAILING", openErr: errors.New("unreachable")})
	return NewDataSourceManagerWithRegistry(registry)
}

// TestDataSourceManager_RegisterAndDefault 测试注册与默认数据源
func TestDataSourceManager_RegisterAndDefault(t *testing.T) {
	manager := newTestManager()

	if _, err := manager.GetDefault(); err == nil {
		t.Errorf("Expected error when no default is set")
	}

	a := newMockDataSource("MOCK", nil, nil)
	b := newMockDataSource("MOCK", nil, nil)
	if err := manager.Register("a", a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := manager.Register("b", b); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := manager.Register("a", b); err == nil {
		t.Errorf("Expected duplicate id error")
	}

	def, err := manager.GetDefault()
	if err != nil || def != a {
		t.Errorf("Expected first registered source to be default")
	}
	if err := manager.SetDefault("b"); err != nil {
		t.Errorf("SetDefault() error = %v", err)
	}
	if manager.GetDefaultID() != "b" {
		t.Errorf("Expected default b, got %s", manager.GetDefaultID())
	}
	if err := manager.SetDefault("zzz"); err == nil {
		t.Errorf("Expected error for unknown id")
	}

	if ds, ok := manager.Detach("b"); !ok || ds != b {
		t.Errorf("Expected Detach() to return b")
	}
	if manager.GetDefaultID() != "a" {
		t.Errorf("Expected default to fall back to a, got %s", manager.GetDefaultID())
	}
}

// TestDataSourceManager_GetCreatesOrReuses 测试按 id 获取或创建
func TestDataSourceManager_GetCreatesOrReuses(t *testing.T) {
	manager := newTestManager()

	first, err := manager.Get("main", "MOCK", domain.ConnectionInfo{"k": "v"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := manager.Get("main", "MOCK", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first != second {
		t.Errorf("Expected Get() to reuse the registered source")
	}
	if _, err := manager.Get("main", "OTHER", nil); err == nil {
		t.Errorf("Expected type mismatch error")
	}
	if ds, ok := manager.Find("main"); !ok || ds != first {
		t.Errorf("Expected Find() to return the source")
	}
	if _, ok := manager.Find("nope"); ok {
		t.Errorf("Expected Find() miss")
	}
}

// TestDataSourceManager_EnabledTypes 测试启用类型
func TestDataSourceManager_EnabledTypes(t *testing.T) {
	manager := newTestManager()
	manager.SetEnabledTypes([]domain.DataSourceType{"FAILING"})

	if manager.IsTypeEnabled("MOCK") {
		t.Errorf("Expected MOCK to be disabled")
	}
	if _, err := manager.Get("x", "MOCK", nil); err == nil {
		t.Errorf("Expected disabled driver error")
	}
	if _, err := manager.CreateAndRegister(context.Background(), "x", "MOCK", nil); err == nil {
		t.Errorf("Expected disabled driver error")
	}
}

// TestDataSourceManager_Lifecycle 测试打开/关闭
func TestDataSourceManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()

	ds, err := manager.CreateAndRegister(ctx, "opened", "MOCK", nil)
	if err != nil {
		t.Fatalf("CreateAndRegister() error = %v", err)
	}
	if !ds.IsOpened() {
		t.Errorf("Expected CreateAndRegister() to open the source")
	}
	if _, err := manager.CreateAndRegister(ctx, "bad", "FAILING", nil); err == nil {
		t.Errorf("Expected open error")
	}
	if _, ok := manager.Find("bad"); ok {
		t.Errorf("Failed source must not be registered")
	}

	lazy, _ := manager.Get("lazy", "MOCK", nil)
	if err := manager.OpenAll(ctx); err != nil {
		t.Fatalf("OpenAll() error = %v", err)
	}
	status := manager.GetStatus()
	if !status["opened"] || !status["lazy"] {
		t.Errorf("Expected all sources open, got %v", status)
	}

	if err := manager.CloseAll(ctx); err != nil {
		t.Errorf("CloseAll() error = %v", err)
	}
	if lazy.IsOpened() {
		t.Errorf("Expected CloseAll() to close sources")
	}

	if err := manager.Unregister(ctx, "lazy"); err != nil {
		t.Errorf("Unregister() error = %v", err)
	}
	detached := manager.DetachAll()
	if len(detached) != 1 || len(manager.List()) != 0 {
		t.Errorf("Expected DetachAll() to empty the manager")
	}
}
