package coremain

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/login"
)

// consoleResolver answers login prompts on the terminal. Accounts logging in
// at the same time take turns.
type consoleResolver struct {
	logger *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	// qrDir is where QR code images are written.
	qrDir string

	mu       sync.Mutex
	readOnce sync.Once
	lines    chan lineResult
}

func newConsoleResolver(logger *zap.Logger) *consoleResolver {
	return &consoleResolver{
		logger: logger,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		qrDir:  ".",
		lines:  make(chan lineResult, 1),
	}
}

func (r *consoleResolver) Resolve(ctx context.Context, p login.Prompt) (string, error) {
	switch p := p.(type) {
	case *login.Success:
		r.logger.Info("login succeeded", zap.Int64("uin", p.AccountInfo.Uin), zap.String("nickname", p.AccountInfo.Nickname))
	case *login.RequestSMS:
		return r.ask(ctx, fmt.Sprintf("%s\nSMS code sent to %s, enter the code (empty to verify by url instead): ", p.Message, p.Phone))
	case *login.DeviceLocked:
		_, err := r.ask(ctx, fmt.Sprintf("%s\nOpen %s to verify, then press enter: ", p.Message, p.VerifyURL))
		return "", err
	case *login.NeedCaptcha:
		return r.ask(ctx, fmt.Sprintf("Solve the captcha at %s and enter the ticket: ", p.VerifyURL))
	case *login.DisplayQRCode:
		name, err := r.writeQRCode(p.Image)
		if err != nil {
			return "", err
		}
		r.logger.Info("scan the qrcode to login", zap.String("file", name))
	case *login.WaitingForScan:
		r.logger.Debug("waiting for qrcode scan")
	case *login.WaitingForConfirm:
		r.logger.Info("qrcode scanned, waiting for confirmation")
	case *login.QRCodeExpired:
		r.logger.Info("qrcode expired, fetching a new one", zap.String("reason", p.Reason))
	case *login.UINMismatch:
		r.logger.Warn("qrcode confirmed by another account", zap.Int64("expected", p.Expected), zap.Int64("actual", p.Actual))
	}
	return "", nil
}

func (r *consoleResolver) writeQRCode(img []byte) (string, error) {
	f, err := os.CreateTemp(r.qrDir, "qrcode-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to save qrcode, %w", err)
	}
	defer f.Close()
	if _, err := f.Write(img); err != nil {
		return "", fmt.Errorf("failed to save qrcode, %w", err)
	}
	return f.Name(), nil
}

type lineResult struct {
	line string
	err  error
}

// readLines feeds r.lines from r.in until reading fails.
func (r *consoleResolver) readLines() {
	for {
		line, err := r.in.ReadString('\n')
		if err == io.EOF && len(line) > 0 {
			err = nil
		}
		r.lines <- lineResult{strings.TrimSpace(line), err}
		if err != nil {
			close(r.lines)
			return
		}
	}
}

// ask prints q and reads one line. Waiting is unbounded unless ctx ends.
func (r *consoleResolver) ask(ctx context.Context, q string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readOnce.Do(func() { go r.readLines() })

	fmt.Fprint(r.out, q)
	select {
	case res, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
