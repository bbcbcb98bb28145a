package directory

import (
	"fmt"
	"net"
	"regexp"
	"sync/atomic"

	"github.com/spf13/viper"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// Snapshot — неизменяемый срез справочника целей. Читатели всегда видят
// согласованную пару (targets, aliases): перезагрузка — атомарная замена
// указателя на целый снапшот, никаких помодульных мутаций.
type Snapshot struct {
	Targets map[string]domain.Target // имя -> цель
	Aliases map[string]string        // алиас -> имя
}

// Directory разрешает человекочитаемый идентификатор (имя, алиас, адрес)
// в сетевой адрес. Чистый lookup, безопасен для конкурентных запросов.
type Directory struct {
	snap   atomic.Pointer[Snapshot]
	path   string
	logger *zap.Logger
}

// hostnameRe — RFC 1123 hostname (включая FQDN). IP проверяем отдельно через net.ParseIP.
var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,62})(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62}))*$`)

func New(path string, logger *zap.Logger) *Directory {
	d := &Directory{
		path:   path,
		logger: logger.Named("directory"),
	}
	d.snap.Store(&Snapshot{
		Targets: map[string]domain.Target{},
		Aliases: map[string]string{},
	})
	return d
}

// Reload выполняет «холодную загрузку» справочника из YAML-файла и
// атомарно подменяет снапшот. Формат:
//
//	targets:
//	  vm1: {address: 10.0.0.5, description: "...", os: windows, aliases: [web-01]}
//	aliases:
//	  primary-dc: vm1
func (d *Directory) Reload() error {
	v := viper.New()
	v.SetConfigFile(d.path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("directory: read %s: %w", d.path, err)
	}

	var raw struct {
		Targets map[string]struct {
			Address     string   `mapstructure:"address"`
			Description string   `mapstructure:"description"`
			OS          string   `mapstructure:"os"`
			Aliases     []string `mapstructure:"aliases"`
		} `mapstructure:"targets"`
		Aliases map[string]string `mapstructure:"aliases"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return fmt.Errorf("directory: decode %s: %w", d.path, err)
	}

	next := &Snapshot{
		Targets: make(map[string]domain.Target, len(raw.Targets)),
		Aliases: make(map[string]string, len(raw.Aliases)),
	}
	for name, t := range raw.Targets {
		next.Targets[name] = domain.Target{
			Name:        name,
			Address:     t.Address,
			Description: t.Description,
			OS:          t.OS,
			Aliases:     t.Aliases,
		}
		// Алиасы можно задавать и внутри цели — сводим в единую мапу
		for _, alias := range t.Aliases {
			next.Aliases[alias] = name
		}
	}
	for alias, name := range raw.Aliases {
		next.Aliases[alias] = name
	}

	d.snap.Store(next)
	d.logger.Info("target directory reloaded",
		zap.Int("targets", len(next.Targets)),
		zap.Int("aliases", len(next.Aliases)))
	return nil
}

// Replace атомарно подставляет готовый снапшот (для тестов и внешней загрузки).
func (d *Directory) Replace(snap *Snapshot) {
	if snap.Targets == nil {
		snap.Targets = map[string]domain.Target{}
	}
	if snap.Aliases == nil {
		snap.Aliases = map[string]string{}
	}
	d.snap.Store(snap)
}

// Resolve — порядок разрешения:
//  1. уже адрес — возвращаем без изменений;
//  2. известный алиас — подставляем имя;
//  3. известное имя — его адрес;
//  4. иначе идентификатор возвращается как есть (сырой hostname,
//     разрешительный fallback — это не валидация).
func (d *Directory) Resolve(identifier string) string {
	if net.ParseIP(identifier) != nil {
		return identifier
	}

	snap := d.snap.Load()

	name := identifier
	if aliased, ok := snap.Aliases[identifier]; ok {
		name = aliased
	}
	if t, ok := snap.Targets[name]; ok {
		return t.Address
	}
	return identifier
}

// Lookup возвращает метаданные цели по имени или алиасу (для API).
func (d *Directory) Lookup(identifier string) (domain.Target, bool) {
	snap := d.snap.Load()
	name := identifier
	if aliased, ok := snap.Aliases[identifier]; ok {
		name = aliased
	}
	t, ok := snap.Targets[name]
	return t, ok
}

// List отдает все известные цели текущего снапшота.
func (d *Directory) List() []domain.Target {
	snap := d.snap.Load()
	out := make([]domain.Target, 0, len(snap.Targets))
	for _, t := range snap.Targets {
		out = append(out, t)
	}
	return out
}

// Validate проверяет синтаксис идентификатора (адрес или hostname).
// Невалидный идентификатор — ValidationError, до разрешения дело не доходит.
func (d *Directory) Validate(identifier string) error {
	if identifier == "" {
		return &domain.ValidationError{Field: "target", Reason: "target identifier is required"}
	}
	if net.ParseIP(identifier) != nil {
		return nil
	}
	if len(identifier) > 253 || !hostnameRe.MatchString(identifier) {
		return &domain.ValidationError{Field: "target", Reason: fmt.Sprintf("%q is not a valid address or hostname", identifier)}
	}
	return nil
}
