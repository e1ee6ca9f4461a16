package lookup

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Tables — неизменяемые справочники, загружаемые один раз при старте:
// ответы по ключевым словам, цены и ограничения по странам.
// Горячей перезагрузки нет: обновление файлов требует рестарта процесса.
type Tables struct {
	keywords     map[string]string
	prices       map[string]string
	restrictions map[string][]string
}

// Load читает справочники из JSON-файлов. Пустой путь означает
// отсутствующую таблицу — соответствующие запросы вернут "не найдено".
func Load(keywordsPath, pricesPath, restrictionsPath string) (*Tables, error) {
	t := &Tables{
		keywords:     map[string]string{},
		prices:       map[string]string{},
		restrictions: map[string][]string{},
	}

	if keywordsPath != "" {
		if err := readJSON(keywordsPath, &t.keywords); err != nil {
			return nil, errors.Wrap(err, "load keywords")
		}
	}
	if pricesPath != "" {
		if err := readJSON(pricesPath, &t.prices); err != nil {
			return nil, errors.Wrap(err, "load prices")
		}
	}
	if restrictionsPath != "" {
		if err := readJSON(restrictionsPath, &t.restrictions); err != nil {
			return nil, errors.Wrap(err, "load restrictions")
		}
	}
	return t, nil
}

func readJSON(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// KeywordReply ищет ключевое слово как подстроку сообщения (без регистра).
// Это словарный поиск, а не разбор языка: первое совпадение по
// отсортированным ключам, чтобы ответ был детерминированным.
func (t *Tables) KeywordReply(text string) (string, bool) {
	low := strings.ToLower(text)

	keys := make([]string, 0, len(t.keywords))
	for k := range t.keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.Contains(low, strings.ToLower(k)) {
			return t.keywords[k], true
		}
	}
	return "", false
}

func (t *Tables) Price(key string) (string, bool) {
	v, ok := t.prices[strings.ToLower(strings.TrimSpace(key))]
	return v, ok
}

// PriceKeys — отсортированный список категорий, по которым есть тариф.
func (t *Tables) PriceKeys() []string {
	out := make([]string, 0, len(t.prices))
	for k := range t.prices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *Tables) Restrictions(country string) ([]string, bool) {
	v, ok := t.restrictions[strings.ToLower(strings.TrimSpace(country))]
	return v, ok
}

// Countries — отсортированный список стран, по которым есть ограничения.
func (t *Tables) Countries() []string {
	out := make([]string, 0, len(t.restrictions))
	for k := range t.restrictions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
