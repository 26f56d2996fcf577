package acceptor

import (
	"fmt"
	"net"

	"hello_gateway/internal/shared/types"
)

// DenialResponse 是 reply 策略发送给被拒绝客户端的固定内容。
const DenialResponse = "HTTP/1.1 200 OK\r\n\r\nYou suck.\r\n"

// RejectStrategy 定义了对不在允许列表中的连接的处理方式。
type RejectStrategy interface {
	// Reject handles a refused connection. The caller closes conn afterwards.
	// stop reports whether the accept loop must end.
	Reject(conn net.Conn) (stop bool, err error)
	Policy() types.RejectPolicy
}

// NewRejectStrategy maps a policy name onto its strategy.
func NewRejectStrategy(policy types.RejectPolicy) (RejectStrategy, error) {
	switch policy {
	case types.PolicyStop, "":
		return stopStrategy{}, nil
	case types.PolicyDrop:
		return dropStrategy{}, nil
	case types.PolicyReply:
		return replyStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown reject policy '%s'", policy)
}

// --- stop: 结束整个 accept 循环 ---

type stopStrategy struct{}

func (stopStrategy) Reject(net.Conn) (bool, error) { return true, nil }
func (stopStrategy) Policy() types.RejectPolicy    { return types.PolicyStop }

// --- drop: 直接关闭连接，继续服务 ---

type dropStrategy struct{}

func (dropStrategy) Reject(net.Conn) (bool, error) { return false, nil }
func (dropStrategy) Policy() types.RejectPolicy    { return types.PolicyDrop }

// --- reply: 回复固定拒绝内容后关闭，继续服务 ---

type replyStrategy struct{}

func (replyStrategy) Reject(conn net.Conn) (bool, error) {
	if _, err := conn.Write([]byte(DenialResponse)); err != nil {
		return false, fmt.Errorf("failed to write denial response: %w", err)
	}
	return false, nil
}

func (replyStrategy) Policy() types.RejectPolicy { return types.PolicyReply }
