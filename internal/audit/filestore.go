package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore — первичное append-only хранилище журнала: одна JSON-строка на
// запись. Мьютекс + единственный Write на запись гарантируют, что записи
// конкурентных писателей не перемешиваются внутри строки.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileStore{path: path, f: f}, nil
}

// Append дописывает одну запись. Маршалим заранее, пишем одним вызовом.
func (s *FileStore) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry %s: %w", e.EventID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("audit: append entry %s: %w", e.EventID, err)
	}
	return nil
}

// ReadAll сканирует весь журнал. Битые строки пропускаются: журнал пишется
// только этим процессом, но читатель обязан пережить усеченную последнюю строку.
func (s *FileStore) ReadAll() ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open %s for read: %w", s.path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("audit: scan %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
