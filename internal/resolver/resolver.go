// Package resolver はホスト名とポートから待ち受けアドレスを1つ決定する
//
// 仕様:
//   - IPv4 のアドレスが1つでもあればそれを優先する
//   - IPv4 がなければ最初に得られたアドレスを使う
//   - 1つも得られなければ ResolutionError を返す
package resolver

import (
	"context"
	"fmt"
	"net"
)

// Lookuper はホスト名をIPアドレスの一覧に解決する
// *net.Resolver がこのインターフェースを満たす
type Lookuper interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ResolutionError はホスト名の解決に失敗したことを表す
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ホスト名 %q を解決できません: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("ホスト名 %q を解決できません: アドレスが見つかりません", e.Host)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver は Lookuper を使ってアドレスを選択する
type Resolver struct {
	lookup Lookuper
}

// New は新しいResolverを作成する。lookup が nil の場合は net.DefaultResolver を使う
func New(lookup Lookuper) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{lookup: lookup}
}

// Resolve は net.DefaultResolver でアドレスを解決する
func Resolve(ctx context.Context, hostname string, port uint16) (*net.TCPAddr, error) {
	return New(nil).Resolve(ctx, hostname, port)
}

// Resolve はホスト名とポートから TCP アドレスを1つ返す
func (r *Resolver) Resolve(ctx context.Context, hostname string, port uint16) (*net.TCPAddr, error) {
	addrs, err := r.lookup.LookupIPAddr(ctx, hostname)
	if err != nil {
		return nil, &ResolutionError{Host: hostname, Err: err}
	}

	selected, ok := selectAddr(addrs)
	if !ok {
		return nil, &ResolutionError{Host: hostname}
	}

	return &net.TCPAddr{IP: selected.IP, Port: int(port), Zone: selected.Zone}, nil
}

// selectAddr は IPv4 を優先してアドレスを1つ選ぶ
func selectAddr(addrs []net.IPAddr) (net.IPAddr, bool) {
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return net.IPAddr{IP: ip4}, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return net.IPAddr{}, false
}
