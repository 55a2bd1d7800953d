package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchRules
//
// path 를 감시하다가 파일이 바뀌면 다시 읽어서 onChange 를 호출한다.
// ctx 가 취소될 때까지 블록된다.
//
// 다시 읽기에 실패하면(YAML 오류 등) 로그만 남기고 이전 규칙을 유지한다.
// 감시는 파일이 아니라 상위 디렉토리에 건다. vim / VS Code 처럼 임시 파일을
// rename 으로 덮어쓰면 원래 inode 의 watch 가 사라지기 때문이다.
// rename 으로 들어온 파일은 Create 이벤트로 온다.
func WatchRules(ctx context.Context, path string, log zerolog.Logger, onChange func(Rules)) error {
	target := filepath.Clean(path)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Info().Str("path", target).Msg("rules: watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			r, err := LoadRules(target)
			if err != nil {
				log.Error().Err(err).Str("path", target).Msg("rules: reload failed, keeping previous rules")
				continue
			}

			log.Info().Str("path", target).Str("event_name", r.EventName).Msg("rules: reloaded")
			onChange(r)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("rules: watcher error")
		}
	}
}
