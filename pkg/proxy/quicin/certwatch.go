// SPDX-FileCopyrightText: 2025, 2026 The quicgw contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicin

import (
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// EnableReload starts watching the certificate and key files and swaps the
// served identity whenever they change. It must be called before Handle,
// as it rewires the TLS configuration shared by all endpoints.
func (handler *Handler) EnableReload() error {
	if handler.reloader != nil {
		return nil
	}

	identity := handler.tlsConf.Certificates[0]
	reloader, err := newCertReloader(handler.certFile, handler.keyFile, &identity)
	if err != nil {
		return fmt.Errorf("starting certificate watcher: %w", err)
	}

	handler.reloader = reloader
	handler.tlsConf.Certificates = nil
	handler.tlsConf.GetCertificate = reloader.getCertificate

	return nil
}

// Close stops the certificate watcher, if one is running. Endpoints handed
// out by Handle live on and are closed through their Inbound.
func (handler *Handler) Close() error {
	if handler.reloader == nil {
		return nil
	}
	return handler.reloader.Close()
}

// certReloader watches a certificate/key file pair and re-parses it on
// every change. A replacement that fails to parse is skipped; the last
// good identity stays active.
type certReloader struct {
	certFile string
	keyFile  string

	identity atomic.Pointer[tls.Certificate]

	watcher *fsnotify.Watcher

	// stop{Syn,Ack} are used to supervise closing this reloader, see Close()
	stopSyn chan struct{}
	stopAck chan struct{}
}

func newCertReloader(certFile, keyFile string, identity *tls.Certificate) (*certReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directories; editors and deployment tooling tend to
	// replace files instead of writing them in place.
	for _, dir := range []string{filepath.Dir(certFile), filepath.Dir(keyFile)} {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	reloader := &certReloader{
		certFile: certFile,
		keyFile:  keyFile,
		watcher:  watcher,
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}
	reloader.identity.Store(identity)

	go reloader.handler()

	return reloader, nil
}

// getCertificate serves the current identity; tls.Config.GetCertificate
// compatible.
func (reloader *certReloader) getCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return reloader.identity.Load(), nil
}

func (reloader *certReloader) handler() {
	defer func() { _ = reloader.watcher.Close() }()

	for {
		select {
		case <-reloader.stopSyn:
			close(reloader.stopAck)
			return

		case event := <-reloader.watcher.Events:
			if !reloader.concerns(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			log.WithFields(log.Fields{
				"file": event.Name,
				"op":   event.Op,
			}).Debug("Certificate file changed, reloading")

			identity, err := loadIdentity(reloader.certFile, reloader.keyFile)
			if err != nil {
				log.WithError(err).Warn("Reloading certificate failed, keeping the previous identity")
				continue
			}

			reloader.identity.Store(identity)
			log.WithField("certificate", reloader.certFile).Info("Certificate reloaded")

		case err := <-reloader.watcher.Errors:
			log.WithError(err).Warn("Certificate watcher errored")
		}
	}
}

func (reloader *certReloader) concerns(name string) bool {
	cleaned := filepath.Clean(name)
	return cleaned == filepath.Clean(reloader.certFile) || cleaned == filepath.Clean(reloader.keyFile)
}

func (reloader *certReloader) Close() error {
	close(reloader.stopSyn)
	<-reloader.stopAck
	return nil
}
